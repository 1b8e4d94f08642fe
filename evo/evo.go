// Package evo scores finished organisms and breeds the genotypes of
// the next generation: selection, crossover, and probability-gated
// mutation, including structural innovation through an Innovator.
package evo

import (
	"sort"

	"github.com/crucible-sim/crucible/genome"
)

// Weights configures the fitness function as a weighted sum over an
// organism's lifetime summary.
type Weights struct {
	Harvested float64 `yaml:"harvested"` // chemical units absorbed
	Lifespan  float64 `yaml:"lifespan"`  // ticks survived
	Offspring float64 `yaml:"offspring"` // children placed
}

// Score computes the fitness of one lifetime summary.
func (w Weights) Score(harvested float64, ticksAlive, offspring int) float64 {
	return w.Harvested*harvested + w.Lifespan*float64(ticksAlive) + w.Offspring*float64(offspring)
}

// Candidate pairs a genotype with the fitness one of its organisms
// earned. The organism id breaks fitness ties, making ranking a strict
// total order.
type Candidate struct {
	Genotype *genome.Genotype
	OrgID    uint64
	Fitness  float64
}

// Rank sorts candidates best-first: descending fitness, ascending
// organism id on ties.
func Rank(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Fitness != c[j].Fitness {
			return c[i].Fitness > c[j].Fitness
		}
		return c[i].OrgID < c[j].OrgID
	})
}
