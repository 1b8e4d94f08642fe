package evo

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/crucible-sim/crucible/chem"
	"github.com/crucible-sim/crucible/genome"
	"github.com/crucible-sim/crucible/vocab"
)

// Innovator mints new raw material for structural mutations: a fresh
// chemical base or a fresh sensing condition, already registered. The
// meta layer implements it; a nil Innovator disables structural
// innovation. Returning ok=false (capacity hit, nothing to compose)
// skips the mutation silently.
type Innovator interface {
	InventBase(rng *rand.Rand) (chem.BaseID, bool)
	InventCondition(rng *rand.Rand) (vocab.ConditionID, bool)
}

// MutationConfig holds per-offspring probabilities for each variation
// operator, plus the parameters of the perturbation distributions.
type MutationConfig struct {
	PerturbThreshold float64 `yaml:"perturb_threshold"`
	ThresholdSigma   float64 `yaml:"threshold_sigma"`
	PerturbRate      float64 `yaml:"perturb_rate"`
	RateSigma        float64 `yaml:"rate_sigma"`
	AddRule          float64 `yaml:"add_rule"`
	NewRuleThreshold float64 `yaml:"new_rule_threshold"` // upper bound for sampled thresholds
	RemoveRule       float64 `yaml:"remove_rule"`
	DuplicateGene    float64 `yaml:"duplicate_gene"`
	Innovate         float64 `yaml:"innovate"`
	MaxRetries       int     `yaml:"max_retries"`
}

// Mutator breeds offspring genotypes. It satisfies the world's Mutator
// interface, so the same operator set serves in-tick reproduction and
// generation turnover.
type Mutator struct {
	rng *rand.Rand
	cfg MutationConfig
	reg *chem.Registry
	voc *vocab.Vocabulary
	inn Innovator

	threshNoise distuv.Normal
	rateNoise   distuv.LogNormal
}

// NewMutator wires the variation operators over the live registries.
func NewMutator(rng *rand.Rand, cfg MutationConfig, reg *chem.Registry, voc *vocab.Vocabulary, inn Innovator) *Mutator {
	return &Mutator{
		rng:         rng,
		cfg:         cfg,
		reg:         reg,
		voc:         voc,
		inn:         inn,
		threshNoise: distuv.Normal{Mu: 0, Sigma: cfg.ThresholdSigma, Src: rng},
		rateNoise:   distuv.LogNormal{Mu: 0, Sigma: cfg.RateSigma, Src: rng},
	}
}

// Offspring returns a mutated copy of the parent. The parent is never
// touched. A candidate that fails validation is discarded and mutation
// retried; after MaxRetries the offspring falls back to a plain clone.
func (m *Mutator) Offspring(parent *genome.Genotype) (*genome.Genotype, error) {
	return m.breed(func() *genome.Genotype {
		return parent.Copy(genome.NewID(m.rng), parent)
	})
}

// CrossBreed recombines two parents at random cut points and mutates
// the result, with the same retry-then-clone discipline as Offspring.
func (m *Mutator) CrossBreed(a, b *genome.Genotype) (*genome.Genotype, error) {
	return m.breed(func() *genome.Genotype {
		return m.crossover(a, b)
	})
}

func (m *Mutator) breed(fresh func() *genome.Genotype) (*genome.Genotype, error) {
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		child := fresh()
		m.mutate(child)
		// Snapshot after mutating: an innovation this attempt may have
		// grown the registry the child now depends on.
		if err := child.Validate(m.reg.Snapshot(), m.voc); err == nil {
			return child, nil
		}
	}
	return fresh(), nil
}

func (m *Mutator) mutate(g *genome.Genotype) {
	if m.rng.Float64() < m.cfg.PerturbThreshold && len(g.Rules) > 0 {
		g.Rules[m.rng.IntN(len(g.Rules))].Threshold += m.threshNoise.Rand()
	}
	if m.rng.Float64() < m.cfg.PerturbRate && len(g.Genes) > 0 {
		g.Genes[m.rng.IntN(len(g.Genes))].Rate *= m.rateNoise.Rand()
	}
	if m.rng.Float64() < m.cfg.AddRule && m.voc.Len() > 0 {
		m.addRule(g, m.randomCondition())
	}
	if m.rng.Float64() < m.cfg.RemoveRule && len(g.Rules) > 1 {
		i := m.rng.IntN(len(g.Rules))
		g.Rules = append(g.Rules[:i], g.Rules[i+1:]...)
	}
	if m.rng.Float64() < m.cfg.DuplicateGene && len(g.Genes) > 0 {
		src := g.Genes[m.rng.IntN(len(g.Genes))]
		src.ID = m.freshGeneID(g)
		src.Rate *= m.rateNoise.Rand()
		g.Genes = append(g.Genes, src)
	}
	if m.inn != nil && m.rng.Float64() < m.cfg.Innovate {
		m.innovate(g)
	}
}

// innovate adds a gene over a freshly invented base, or a rule over a
// freshly invented condition. The referencing material is added only
// when the innovator actually registered something.
func (m *Mutator) innovate(g *genome.Genotype) {
	if m.rng.Float64() < 0.5 {
		base, ok := m.inn.InventBase(m.rng)
		if !ok {
			return
		}
		mode := genome.ModeConsume
		if m.rng.Float64() < 0.5 {
			mode = genome.ModeProduce
		}
		g.Genes = append(g.Genes, genome.Gene{
			ID:   m.freshGeneID(g),
			Base: base,
			Mode: mode,
			Rate: m.rateNoise.Rand(),
		})
		return
	}
	cond, ok := m.inn.InventCondition(m.rng)
	if !ok {
		return
	}
	m.addRule(g, cond)
}

func (m *Mutator) addRule(g *genome.Genotype, cond vocab.ConditionID) {
	cmp := genome.CmpLess
	if m.rng.Float64() < 0.5 {
		cmp = genome.CmpGreater
	}
	rule := genome.Rule{
		Condition: cond,
		Cmp:       cmp,
		Threshold: m.rng.Float64() * m.cfg.NewRuleThreshold,
		Action:    genome.RandomAction(m.rng, g.Genes),
	}
	// Rule order is meaning; new rules land anywhere in the sequence.
	i := m.rng.IntN(len(g.Rules) + 1)
	g.Rules = append(g.Rules, genome.Rule{})
	copy(g.Rules[i+1:], g.Rules[i:])
	g.Rules[i] = rule
}

func (m *Mutator) randomCondition() vocab.ConditionID {
	ids := m.voc.IDs()
	return ids[m.rng.IntN(len(ids))]
}

func (m *Mutator) freshGeneID(g *genome.Genotype) genome.GeneID {
	for i := len(g.Genes); ; i++ {
		id := genome.GeneID(fmt.Sprintf("g%d", i))
		if _, taken := g.Gene(id); !taken {
			return id
		}
	}
}

// crossover cuts both parents' rule sequences at independent points
// and splices them. Genes are the union, first parent winning id
// collisions; rules whose references did not survive the union are
// dropped.
func (m *Mutator) crossover(a, b *genome.Genotype) *genome.Genotype {
	child := &genome.Genotype{ID: genome.NewID(m.rng)}
	child.ParentIDs = []string{a.ID, b.ID}
	child.Generation = a.Generation + 1
	if b.Generation >= a.Generation {
		child.Generation = b.Generation + 1
	}

	seen := make(map[genome.GeneID]bool)
	for _, src := range [][]genome.Gene{a.Genes, b.Genes} {
		for _, gn := range src {
			if !seen[gn.ID] {
				seen[gn.ID] = true
				child.Genes = append(child.Genes, gn)
			}
		}
	}

	cutA := m.rng.IntN(len(a.Rules) + 1)
	cutB := m.rng.IntN(len(b.Rules) + 1)
	spliced := make([]genome.Rule, 0, cutA+len(b.Rules)-cutB)
	spliced = append(spliced, a.Rules[:cutA]...)
	spliced = append(spliced, b.Rules[cutB:]...)

	for _, r := range spliced {
		if !m.voc.Has(r.Condition) {
			continue
		}
		if op := r.Action.Op; op == genome.OpProduce || op == genome.OpConsume {
			if !seen[r.Action.Gene] {
				continue
			}
		}
		child.Rules = append(child.Rules, r)
	}
	return child
}
