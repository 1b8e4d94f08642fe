package evo

import (
	"fmt"
	"math/rand/v2"

	"github.com/crucible-sim/crucible/fault"
)

// Selector picks one parent from a ranked population.
type Selector interface {
	Select(rng *rand.Rand, ranked []Candidate) Candidate
}

// Roulette is fitness-proportional selection. Non-positive fitness
// contributes nothing; if the whole population is non-positive it
// degrades to uniform choice.
type Roulette struct{}

func (Roulette) Select(rng *rand.Rand, ranked []Candidate) Candidate {
	var total float64
	for _, c := range ranked {
		if c.Fitness > 0 {
			total += c.Fitness
		}
	}
	if total <= 0 {
		return ranked[rng.IntN(len(ranked))]
	}
	pick := rng.Float64() * total
	for _, c := range ranked {
		if c.Fitness <= 0 {
			continue
		}
		pick -= c.Fitness
		if pick <= 0 {
			return c
		}
	}
	return ranked[len(ranked)-1]
}

// Tournament draws size candidates uniformly and keeps the fittest.
type Tournament struct {
	Size int
}

// NewTournament validates the tournament size.
func NewTournament(size int) (Tournament, error) {
	if size < 1 {
		return Tournament{}, fmt.Errorf("evo: %w: tournament size %d", fault.ErrConfig, size)
	}
	return Tournament{Size: size}, nil
}

func (t Tournament) Select(rng *rand.Rand, ranked []Candidate) Candidate {
	best := ranked[rng.IntN(len(ranked))]
	for i := 1; i < t.Size; i++ {
		c := ranked[rng.IntN(len(ranked))]
		if c.Fitness > best.Fitness || (c.Fitness == best.Fitness && c.OrgID < best.OrgID) {
			best = c
		}
	}
	return best
}

// NewSelector builds a selector by configured name.
func NewSelector(name string, tournamentSize int) (Selector, error) {
	switch name {
	case "roulette":
		return Roulette{}, nil
	case "tournament":
		return NewTournament(tournamentSize)
	default:
		return nil, fmt.Errorf("evo: %w: unknown selector %q", fault.ErrConfig, name)
	}
}
