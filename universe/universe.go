// Package universe owns one complete run: the chemical registry and
// condition vocabulary, the grid world, the evolutionary loop, and the
// meta-innovation engine, all driven from a single seeded RNG so a run
// replays bit-identically.
package universe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/crucible-sim/crucible/chem"
	"github.com/crucible-sim/crucible/config"
	"github.com/crucible-sim/crucible/develop"
	"github.com/crucible-sim/crucible/evo"
	"github.com/crucible-sim/crucible/fault"
	"github.com/crucible-sim/crucible/genome"
	"github.com/crucible-sim/crucible/meta"
	"github.com/crucible-sim/crucible/telemetry"
	"github.com/crucible-sim/crucible/vocab"
	"github.com/crucible-sim/crucible/world"
)

// Universe is one running experiment.
type Universe struct {
	cfg *config.Config
	log *slog.Logger

	pcg *rand.PCG
	rng *rand.Rand

	reg   *chem.Registry
	voc   *vocab.Vocabulary
	dev   *develop.Engine
	meta  *meta.Engine
	mut   *evo.Mutator
	sel   evo.Selector
	world *world.World

	seed  uint64
	epoch int

	champion    *genome.Genotype
	championFit float64
}

// New builds a universe from configuration: founding chemistry is
// registered, the vocabulary bootstrapped, and the founding population
// drawn and placed.
func New(cfg *config.Config, seed uint64, log *slog.Logger) (*Universe, error) {
	u, err := assemble(cfg, seed, log, func(reg *chem.Registry, voc *vocab.Vocabulary) error {
		for _, def := range cfg.Chemistry.Bases {
			if _, err := reg.Register(def); err != nil {
				return fmt.Errorf("universe: founding base %q: %w", def.ID, err)
			}
		}
		return voc.Bootstrap(reg.Snapshot())
	})
	if err != nil {
		return nil, err
	}

	snap := u.reg.Snapshot()
	founders := make([]*genome.Genotype, cfg.Generation.PopulationSize)
	for i := range founders {
		founders[i] = genome.NewRandom(u.rng, snap, u.voc, cfg.Seeding.Random)
	}
	if err := u.seedPopulation(founders); err != nil {
		u.world.Close()
		return nil, err
	}
	return u, nil
}

// assemble wires the shared machinery; populate fills the registries
// before anything depends on them.
func assemble(cfg *config.Config, seed uint64, log *slog.Logger, populate func(*chem.Registry, *vocab.Vocabulary) error) (*Universe, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	reg := chem.NewRegistry(cfg.Chemistry.MaxBases)
	voc := vocab.NewVocabulary(cfg.Vocabulary.MaxConditions)
	if err := populate(reg, voc); err != nil {
		return nil, err
	}

	dev, err := develop.NewEngine(cfg.Development)
	if err != nil {
		return nil, err
	}
	sel, err := evo.NewSelector(cfg.Generation.Selector, cfg.Generation.TournamentSize)
	if err != nil {
		return nil, err
	}

	pcg := rand.NewPCG(seed, 0x9e3779b97f4a7c15)
	rng := rand.New(pcg)

	metaEng := meta.New(cfg.Meta, reg, voc, log)
	mut := evo.NewMutator(rng, cfg.Mutation, reg, voc, metaEng)

	w, err := world.New(cfg.World, reg, voc, dev, mut, seed, log)
	if err != nil {
		return nil, err
	}

	return &Universe{
		cfg:   cfg,
		log:   log,
		pcg:   pcg,
		rng:   rng,
		reg:   reg,
		voc:   voc,
		dev:   dev,
		meta:  metaEng,
		mut:   mut,
		sel:   sel,
		world: w,
		seed:  seed,
	}, nil
}

// Config returns the configuration the universe runs under.
func (u *Universe) Config() *config.Config { return u.cfg }

// World exposes the grid environment.
func (u *Universe) World() *world.World { return u.world }

// Registry exposes the chemical base registry.
func (u *Universe) Registry() *chem.Registry { return u.reg }

// Vocabulary exposes the condition vocabulary.
func (u *Universe) Vocabulary() *vocab.Vocabulary { return u.voc }

// Conditions returns the vocabulary's condition ids in registration
// order.
func (u *Universe) Conditions() []vocab.ConditionID { return u.voc.IDs() }

// Epoch returns the number of completed generation boundaries.
func (u *Universe) Epoch() int { return u.epoch }

// Close releases the world's worker pool.
func (u *Universe) Close() { u.world.Close() }

// RegisterChemicalBase adds a base to the registry from outside the
// innovation machinery, for experiment setup.
func (u *Universe) RegisterChemicalBase(def chem.ChemicalBase) (chem.BaseID, error) {
	return u.reg.Register(def)
}

// RegisterCondition adds a condition composed through the fixed
// algebra, validated against the current chemistry.
func (u *Universe) RegisterCondition(e vocab.Entry) (vocab.ConditionID, error) {
	return u.voc.Register(e, u.reg.Snapshot())
}

// Step advances the world n ticks. Cancellation is honored between
// ticks; completed reports are returned either way.
func (u *Universe) Step(ctx context.Context, n int) ([]world.TickReport, error) {
	reports := make([]world.TickReport, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		reports = append(reports, u.world.Step())
	}
	return reports, nil
}

// EvolveGeneration closes the current generation: scores every
// organism's lifetime record, lets the meta engine observe the epoch,
// breeds the next population, and reseeds the world. The field carries
// over; the population does not.
func (u *Universe) EvolveGeneration() (telemetry.EpochStats, error) {
	records := u.world.Records()
	if len(records) == 0 {
		return telemetry.EpochStats{}, fmt.Errorf("universe: %w: no organisms to evolve", fault.ErrConfig)
	}

	cands := make([]evo.Candidate, 0, len(records))
	usage := make(map[genome.ActionOp]int)
	var sum float64
	for _, r := range records {
		gt, ok := u.world.Genotype(r.Genotype)
		if !ok {
			continue
		}
		f := u.cfg.Fitness.Score(r.Harvested, r.TicksAlive, r.Offspring)
		sum += f
		cands = append(cands, evo.Candidate{Genotype: gt, OrgID: r.ID, Fitness: f})
		for _, rule := range gt.Rules {
			usage[rule.Action.Op]++
		}
	}
	if len(cands) == 0 {
		return telemetry.EpochStats{}, fmt.Errorf("universe: %w: no genotypes resolved", fault.ErrConfig)
	}
	evo.Rank(cands)

	// Observation comes first so an innovation is already available to
	// the breeding that follows.
	innovated := u.meta.Observe(u.rng, meta.EpochSummary{
		BestFitness: cands[0].Fitness,
		ActionUsage: usage,
	})

	next, err := evo.NextGeneration(u.rng, cands, u.sel, u.mut, u.cfg.Generation)
	if err != nil {
		return telemetry.EpochStats{}, err
	}

	u.world.Clear()
	if err := u.seedPopulation(next); err != nil {
		return telemetry.EpochStats{}, err
	}
	u.epoch++
	u.champion = cands[0].Genotype
	u.championFit = cands[0].Fitness

	generation := 0
	for _, gt := range next {
		if gt.Generation > generation {
			generation = gt.Generation
		}
	}
	stats := telemetry.EpochStats{
		Epoch:         u.epoch,
		Generation:    generation,
		Organisms:     u.world.Organisms(),
		BestFitness:   cands[0].Fitness,
		MeanFitness:   sum / float64(len(cands)),
		Diversity:     meta.Entropy(usage),
		ChemicalBases: u.reg.Len(),
		Conditions:    u.voc.Len(),
		TotalEnergy:   u.world.TotalEnergy(),
		HeatLossAccum: u.world.Heat(),
		EnergyInput:   u.world.Injected(),
		Innovated:     innovated,
	}
	u.log.Info("generation evolved", "stats", stats)
	return stats, nil
}

// RunEpoch runs one full epoch: a fixed number of ticks, then the
// generation boundary.
func (u *Universe) RunEpoch(ctx context.Context) (telemetry.EpochStats, error) {
	reports, err := u.Step(ctx, u.cfg.Run.TicksPerEpoch)
	if err != nil {
		return telemetry.EpochStats{}, err
	}

	stats, err := u.EvolveGeneration()
	if err != nil {
		return telemetry.EpochStats{}, err
	}
	for _, rep := range reports {
		stats.Births += rep.Births
		stats.Deaths += rep.Deaths
	}
	return stats, nil
}

// Champion returns the best genotype of the most recently closed
// generation, or, before the first boundary, the current best by
// lifetime fitness. False when nothing is recorded yet.
func (u *Universe) Champion() (*genome.Genotype, float64, bool) {
	if u.champion != nil {
		return u.champion, u.championFit, true
	}
	records := u.world.Records()
	var (
		best    *genome.Genotype
		bestFit float64
		bestID  uint64
		found   bool
	)
	for _, r := range records {
		gt, ok := u.world.Genotype(r.Genotype)
		if !ok {
			continue
		}
		f := u.cfg.Fitness.Score(r.Harvested, r.TicksAlive, r.Offspring)
		if !found || f > bestFit || (f == bestFit && r.ID < bestID) {
			best, bestFit, bestID, found = gt, f, r.ID, true
		}
	}
	return best, bestFit, found
}

// seedPopulation places genotypes at evenly spaced grid positions,
// probing forward when a computed spot is taken.
func (u *Universe) seedPopulation(gts []*genome.Genotype) error {
	width, height := u.cfg.World.Width, u.cfg.World.Height
	positions := seedPositions(len(gts), width, height)
	used := make(map[[2]int]bool, len(gts))

	for i, gt := range gts {
		x, y := positions[i][0], positions[i][1]
		for used[[2]int{x, y}] {
			x++
			if x >= width {
				x, y = 0, (y+1)%height
			}
		}
		used[[2]int{x, y}] = true

		if _, err := u.world.Spawn(gt, x, y, u.cfg.Seeding.InitialEnergy, u.rng.Uint64()); err != nil {
			return fmt.Errorf("universe: seeding organism %d: %w", i, err)
		}
	}
	return nil
}

// seedPositions spreads n points over a width×height torus on a
// near-square lattice.
func seedPositions(n, width, height int) [][2]int {
	if n == 0 {
		return nil
	}
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols

	out := make([][2]int, 0, n)
	for r := 0; r < rows && len(out) < n; r++ {
		for c := 0; c < cols && len(out) < n; c++ {
			x := (c*width + width/2) / cols % width
			y := (r*height + height/2) / rows % height
			out = append(out, [2]int{x, y})
		}
	}
	return out
}
