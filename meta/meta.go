// Package meta watches the evolutionary run for stagnation and grows
// the innovation space in response: new sensing conditions composed
// from existing vocabulary, or entirely new chemical bases. Appends
// are capacity-respecting and nothing is ever removed, so historical
// genotypes stay valid forever.
package meta

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/crucible-sim/crucible/chem"
	"github.com/crucible-sim/crucible/fault"
	"github.com/crucible-sim/crucible/genome"
	"github.com/crucible-sim/crucible/vocab"
)

// Config tunes the stagnation detectors.
type Config struct {
	EntropyThreshold float64 `yaml:"entropy_threshold"` // behavioral entropy below this is stagnant
	StagnationLimit  int     `yaml:"stagnation_limit"`  // epochs without best-fitness improvement
}

// EpochSummary is what the engine observes at each generation boundary.
type EpochSummary struct {
	BestFitness float64
	// ActionUsage counts rule actions across the whole population's
	// genotypes; its entropy measures behavioral diversity.
	ActionUsage map[genome.ActionOp]int
}

// Engine is the meta-innovation layer. It also implements the
// evolution layer's Innovator, so structural mutations draw from the
// same invention machinery as stagnation responses.
type Engine struct {
	cfg Config
	log *slog.Logger
	reg *chem.Registry
	voc *vocab.Vocabulary

	best       float64
	hasBest    bool
	stagnation int
	nextBase   int
	nextCond   int
}

// New wires the engine over the live registries. Invention counters
// start past the current registry sizes so ids stay unique when an
// engine is rebuilt over registries that already hold inventions.
func New(cfg Config, reg *chem.Registry, voc *vocab.Vocabulary, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, log: log, reg: reg, voc: voc, nextBase: reg.Len(), nextCond: voc.Len()}
}

// Stagnation returns the current streak of epochs without improvement.
func (e *Engine) Stagnation() int { return e.stagnation }

// State is the engine's serializable memory: the detector baselines
// and the counters that keep invented ids unique.
type State struct {
	BestFitness float64 `json:"best_fitness"`
	HasBest     bool    `json:"has_best"`
	Stagnation  int     `json:"stagnation"`
	NextBase    int     `json:"next_base"`
	NextCond    int     `json:"next_cond"`
}

// ExportState captures the engine's memory.
func (e *Engine) ExportState() State {
	return State{
		BestFitness: e.best,
		HasBest:     e.hasBest,
		Stagnation:  e.stagnation,
		NextBase:    e.nextBase,
		NextCond:    e.nextCond,
	}
}

// RestoreState reinstates a captured memory. Invention counters never
// move backwards, so ids stay unique even when the live registries
// hold more inventions than the recorded state.
func (e *Engine) RestoreState(s State) {
	e.best = s.BestFitness
	e.hasBest = s.HasBest
	e.stagnation = s.Stagnation
	if s.NextBase > e.nextBase {
		e.nextBase = s.NextBase
	}
	if s.NextCond > e.nextCond {
		e.nextCond = s.NextCond
	}
}

// Entropy computes the Shannon entropy of an action-usage histogram.
// Keys are visited in sorted order so the float accumulation is
// reproducible.
func Entropy(usage map[genome.ActionOp]int) float64 {
	ops := make([]string, 0, len(usage))
	total := 0
	for op, n := range usage {
		ops = append(ops, string(op))
		total += n
	}
	if total == 0 {
		return 0
	}
	sort.Strings(ops)
	p := make([]float64, len(ops))
	for i, op := range ops {
		p[i] = float64(usage[genome.ActionOp(op)]) / float64(total)
	}
	return stat.Entropy(p)
}

// Observe ingests one epoch summary and reports whether it triggered
// an innovation. Either detector firing invents exactly one thing and
// resets the stagnation streak.
func (e *Engine) Observe(rng *rand.Rand, s EpochSummary) bool {
	if !e.hasBest || s.BestFitness > e.best {
		e.best = s.BestFitness
		e.hasBest = true
		e.stagnation = 0
	} else {
		e.stagnation++
	}

	entropy := Entropy(s.ActionUsage)
	stale := e.cfg.StagnationLimit > 0 && e.stagnation >= e.cfg.StagnationLimit
	flat := e.cfg.EntropyThreshold > 0 && entropy < e.cfg.EntropyThreshold

	if !stale && !flat {
		return false
	}
	e.log.Info("stagnation detected",
		"entropy", entropy,
		"streak", e.stagnation,
		"best_fitness", e.best,
	)

	var invented bool
	if rng.Float64() < 0.5 {
		_, invented = e.InventBase(rng)
	} else {
		_, invented = e.InventCondition(rng)
	}
	if invented {
		e.stagnation = 0
	}
	return invented
}

// Name fragments for invented chemistry.
var (
	basePrefixes = []string{"xeno", "pyro", "cryo", "chrono", "umbra", "aureo", "viro", "geo"}
	baseSuffixes = []string{"cyte", "gen", "zyme", "plasm", "lith", "phage"}
)

// InventBase registers a fresh chemical base with generated name and
// randomized parameters. Returns ok=false when the registry is full.
func (e *Engine) InventBase(rng *rand.Rand) (chem.BaseID, bool) {
	name := basePrefixes[rng.IntN(len(basePrefixes))] + baseSuffixes[rng.IntN(len(baseSuffixes))]
	id := chem.BaseID(fmt.Sprintf("%s_%d", name, e.nextBase))

	def := chem.ChemicalBase{
		ID:            id,
		Name:          name,
		EnergyYield:   0.5 + rng.Float64()*2.5,
		DiffusionRate: rng.Float64() * 0.2,
		DecayRate:     rng.Float64() * 0.05,
	}
	// A fifth of inventions are hostile chemistry.
	if rng.Float64() < 0.2 {
		def.Toxicity = rng.Float64()
	}

	if _, err := e.reg.Register(def); err != nil {
		e.log.Debug("base invention rejected", "id", id, "err", err)
		return "", false
	}
	e.nextBase++
	e.log.Info("chemical base invented",
		"id", id,
		"energy_yield", def.EnergyYield,
		"toxicity", def.Toxicity,
	)
	return id, true
}

// InventCondition composes a new condition from the existing
// vocabulary through the fixed algebra: either a weighted sum of two
// existing entries, or a gradient/neighbor wrapper over a registered
// base. Returns ok=false when the vocabulary is full or has nothing
// to compose from.
func (e *Engine) InventCondition(rng *rand.Rand) (vocab.ConditionID, bool) {
	snap := e.reg.Snapshot()
	entries := e.voc.List()
	if len(entries) == 0 || snap.Len() == 0 {
		return "", false
	}

	var entry vocab.Entry
	switch rng.IntN(3) {
	case 0: // weighted sum of two existing conditions
		a := entries[rng.IntN(len(entries))]
		b := entries[rng.IntN(len(entries))]
		wa := rng.Float64()*2 - 1
		wb := rng.Float64()*2 - 1
		entry = vocab.Entry{
			ID:          vocab.ConditionID(fmt.Sprintf("mix_%d_%s_%s", e.nextCond, a.ID, b.ID)),
			Description: fmt.Sprintf("%.2f·%s + %.2f·%s", wa, a.ID, wb, b.ID),
			Expr: vocab.Expr{
				Op:      vocab.OpWeightedSum,
				Weights: []float64{wa, wb},
				Args:    []vocab.Expr{a.Expr, b.Expr},
			},
		}
	case 1: // gradient of a random base
		b := snap.At(rng.IntN(snap.Len()))
		entry = vocab.Entry{
			ID:          vocab.ConditionID(fmt.Sprintf("grad_%d_%s", e.nextCond, b.ID)),
			Description: fmt.Sprintf("field gradient of %s", b.Name),
			Expr:        vocab.Expr{Op: vocab.OpGradient, Base: b.ID},
		}
	default: // neighborhood mean of a random base
		b := snap.At(rng.IntN(snap.Len()))
		entry = vocab.Entry{
			ID:          vocab.ConditionID(fmt.Sprintf("nbr_%d_%s", e.nextCond, b.ID)),
			Description: fmt.Sprintf("neighbor mean of %s", b.Name),
			Expr:        vocab.Expr{Op: vocab.OpNeighbor, Agg: vocab.AggMean, Base: b.ID},
		}
	}

	if _, err := e.voc.Register(entry, snap); err != nil {
		if errors.Is(err, fault.ErrCapacityExceeded) {
			e.log.Debug("condition invention rejected", "id", entry.ID, "err", err)
			return "", false
		}
		// Composition can overflow the expression depth bound when it
		// stacks earlier inventions; fall back to a flat wrapper.
		b := snap.At(rng.IntN(snap.Len()))
		entry = vocab.Entry{
			ID:          vocab.ConditionID(fmt.Sprintf("grad_%d_%s", e.nextCond, b.ID)),
			Description: fmt.Sprintf("field gradient of %s", b.Name),
			Expr:        vocab.Expr{Op: vocab.OpGradient, Base: b.ID},
		}
		if _, err := e.voc.Register(entry, snap); err != nil {
			e.log.Debug("condition invention rejected", "id", entry.ID, "err", err)
			return "", false
		}
	}
	e.nextCond++
	e.log.Info("condition invented", "id", entry.ID, "description", entry.Description)
	return entry.ID, true
}
