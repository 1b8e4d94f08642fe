package evo

import (
	"fmt"
	"math/rand/v2"

	"github.com/crucible-sim/crucible/fault"
	"github.com/crucible-sim/crucible/genome"
)

// GenerationConfig bounds generation turnover.
type GenerationConfig struct {
	PopulationSize int     `yaml:"population_size"`
	EliteFraction  float64 `yaml:"elite_fraction"`
	CrossoverRate  float64 `yaml:"crossover_rate"`
	Selector       string  `yaml:"selector"`        // roulette or tournament
	TournamentSize int     `yaml:"tournament_size"` // used by tournament only
}

// Validate reports the first configuration fault.
func (c GenerationConfig) Validate() error {
	switch {
	case c.PopulationSize <= 0:
		return fmt.Errorf("evo: %w: population_size %d", fault.ErrConfig, c.PopulationSize)
	case c.EliteFraction < 0 || c.EliteFraction > 1:
		return fmt.Errorf("evo: %w: elite_fraction %v", fault.ErrConfig, c.EliteFraction)
	case c.CrossoverRate < 0 || c.CrossoverRate > 1:
		return fmt.Errorf("evo: %w: crossover_rate %v", fault.ErrConfig, c.CrossoverRate)
	}
	_, err := NewSelector(c.Selector, max(c.TournamentSize, 1))
	return err
}

// NextGeneration breeds cfg.PopulationSize genotypes from a ranked
// parent pool. The top elite fraction carries over unchanged; the rest
// are bred by selection plus crossover or mutation. Parents are never
// modified.
func NextGeneration(rng *rand.Rand, ranked []Candidate, sel Selector, mut *Mutator, cfg GenerationConfig) ([]*genome.Genotype, error) {
	if len(ranked) == 0 {
		return nil, fmt.Errorf("evo: %w: empty parent pool", fault.ErrConfig)
	}

	out := make([]*genome.Genotype, 0, cfg.PopulationSize)
	elites := int(float64(cfg.PopulationSize) * cfg.EliteFraction)
	if elites > len(ranked) {
		elites = len(ranked)
	}
	for i := 0; i < elites && len(out) < cfg.PopulationSize; i++ {
		out = append(out, ranked[i].Genotype)
	}

	for len(out) < cfg.PopulationSize {
		p1 := sel.Select(rng, ranked)
		var (
			child *genome.Genotype
			err   error
		)
		if len(ranked) > 1 && rng.Float64() < cfg.CrossoverRate {
			p2 := sel.Select(rng, ranked)
			child, err = mut.CrossBreed(p1.Genotype, p2.Genotype)
		} else {
			child, err = mut.Offspring(p1.Genotype)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}
