package world

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/crucible-sim/crucible/chem"
	"github.com/crucible-sim/crucible/develop"
	"github.com/crucible-sim/crucible/fault"
	"github.com/crucible-sim/crucible/genome"
	"github.com/crucible-sim/crucible/vocab"
)

// cloneMutator reproduces asexually without variation; enough to
// exercise the world's lifecycle deterministically.
type cloneMutator struct {
	rng *rand.Rand
}

func (m *cloneMutator) Offspring(p *genome.Genotype) (*genome.Genotype, error) {
	return p.Copy(genome.NewID(m.rng), p), nil
}

type testBench struct {
	reg *chem.Registry
	voc *vocab.Vocabulary
	gt  *genome.Genotype
	w   *World
}

func testWorldConfig() Config {
	return Config{
		Width:          16,
		Height:         16,
		TickLength:     1,
		ReproThreshold: 100,
		ReproCost:      1,
		MetabolicCost:  0.1,
		SecretionCost:  0.5,
		Lifespan:       0,
		InitialAmount:  0,
		Noise:          DefaultNoise(),
	}
}

func newBench(t *testing.T, cfg Config, seed uint64) *testBench {
	t.Helper()
	reg := chem.NewRegistry(0)
	if _, err := reg.Register(chem.ChemicalBase{ID: "glucose", Name: "glucose", EnergyYield: 2}); err != nil {
		t.Fatal(err)
	}
	voc := vocab.NewVocabulary(0)
	if err := voc.Bootstrap(reg.Snapshot()); err != nil {
		t.Fatal(err)
	}
	dev, err := develop.NewEngine(develop.Config{
		StepCap: 16, MaxCells: 16, DivideCost: 1, Split: develop.SplitHalve,
	})
	if err != nil {
		t.Fatal(err)
	}
	mut := &cloneMutator{rng: rand.New(rand.NewPCG(seed, 1))}
	w, err := New(cfg, reg, voc, dev, mut, seed, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Close)

	// A grazer: one consuming gene, no developmental rules, so the
	// body stays a single stable cell.
	gt := &genome.Genotype{
		ID:    "G-0000001",
		Genes: []genome.Gene{{ID: "g0", Base: "glucose", Mode: genome.ModeConsume, Rate: 1}},
	}
	if err := gt.Validate(reg.Snapshot(), voc); err != nil {
		t.Fatal(err)
	}
	return &testBench{reg: reg, voc: voc, gt: gt, w: w}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero width", func(c *Config) { c.Width = 0 }},
		{"zero tick length", func(c *Config) { c.TickLength = 0 }},
		{"negative cost", func(c *Config) { c.MetabolicCost = -1 }},
		{"threshold below cost", func(c *Config) { c.ReproThreshold = 0.5; c.ReproCost = 1 }},
		{"negative lifespan", func(c *Config) { c.Lifespan = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testWorldConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, fault.ErrConfig) {
				t.Errorf("Validate err = %v, want ErrConfig", err)
			}
		})
	}
	if err := testWorldConfig().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestSpawnOccupiedCell(t *testing.T) {
	b := newBench(t, testWorldConfig(), 1)
	if _, err := b.w.Spawn(b.gt, 5, 5, 1, 11); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, err := b.w.Spawn(b.gt, 5, 5, 1, 12); !errors.Is(err, fault.ErrCapacityExceeded) {
		t.Errorf("Spawn on occupied cell err = %v, want ErrCapacityExceeded", err)
	}
	if b.w.Organisms() != 1 {
		t.Errorf("Organisms = %d, want 1", b.w.Organisms())
	}
}

func TestSpawnRekeysCollidingLineage(t *testing.T) {
	b := newBench(t, testWorldConfig(), 1)
	if _, err := b.w.Spawn(b.gt, 1, 1, 1, 11); err != nil {
		t.Fatal(err)
	}

	// A distinct genotype that drew the same lineage id.
	clone := b.gt.Copy(b.gt.ID)
	if _, err := b.w.Spawn(clone, 5, 5, 1, 12); err != nil {
		t.Fatalf("Spawn with colliding id: %v", err)
	}
	if clone.ID == b.gt.ID {
		t.Fatal("colliding lineage id kept")
	}

	if gt, ok := b.w.Genotype(b.gt.ID); !ok || gt != b.gt {
		t.Error("original lineage displaced by the newcomer")
	}
	if gt, ok := b.w.Genotype(clone.ID); !ok || gt != clone {
		t.Error("re-keyed lineage not registered under its new id")
	}

	// Re-spawning an already registered genotype is not a collision.
	if _, err := b.w.Spawn(b.gt, 9, 9, 1, 13); err != nil {
		t.Fatalf("respawn of registered genotype: %v", err)
	}
	if b.gt.ID != "G-0000001" {
		t.Errorf("registered genotype re-keyed to %q", b.gt.ID)
	}
}

func TestStepHarvestsAndPaysUpkeep(t *testing.T) {
	b := newBench(t, testWorldConfig(), 1)
	if _, err := b.w.Spawn(b.gt, 5, 5, 1, 11); err != nil {
		t.Fatal(err)
	}
	b.w.Field().Add(0, 5, 5, 10)

	rep := b.w.Step()

	// One cell consumes 1 unit, yields 2 energy, pays 0.1 upkeep.
	if math.Abs(rep.Energy-2.9) > 1e-12 {
		t.Errorf("Energy = %v, want 2.9", rep.Energy)
	}
	if got := b.w.Field().At(0, 5, 5); math.Abs(got-9) > 1e-12 {
		t.Errorf("field = %v, want 9", got)
	}
	if math.Abs(rep.Heat-0.1) > 1e-12 {
		t.Errorf("Heat = %v, want 0.1", rep.Heat)
	}
	if math.Abs(rep.Injected-3) > 1e-12 {
		t.Errorf("Injected = %v, want 3 (1 seeded + 2 harvested)", rep.Injected)
	}
}

func TestReproductionTransfersExactCost(t *testing.T) {
	cfg := testWorldConfig()
	cfg.ReproThreshold = 3
	cfg.ReproCost = 2
	cfg.MetabolicCost = 0
	b := newBench(t, cfg, 1)

	// Above threshold from the start; an empty field and zero upkeep
	// leave reproduction as the only energy movement this tick.
	if _, err := b.w.Spawn(b.gt, 8, 8, 5, 11); err != nil {
		t.Fatal(err)
	}

	rep := b.w.Step()
	if rep.Births != 1 {
		t.Fatalf("Births = %d, want 1", rep.Births)
	}

	// The parent pays exactly the cost; the child starts with it.
	energies := b.w.Energies()
	if len(energies) != 2 {
		t.Fatalf("Energies = %v, want parent and child", energies)
	}
	if math.Abs(energies[0]-3) > 1e-12 {
		t.Errorf("parent energy = %v, want 3", energies[0])
	}
	if math.Abs(energies[1]-2) > 1e-12 {
		t.Errorf("child energy = %v, want 2", energies[1])
	}
	if rep.Heat != 0 {
		t.Errorf("Heat = %v, want 0 from an exact transfer", rep.Heat)
	}

	// The child's genotype is registered under its own lineage id.
	for _, r := range b.w.Records() {
		if gt, ok := b.w.Genotype(r.Genotype); !ok || gt == nil {
			t.Errorf("organism %d genotype %q not registered", r.ID, r.Genotype)
		}
	}
}

func TestStarvationReapsAndRecords(t *testing.T) {
	b := newBench(t, testWorldConfig(), 1)
	if _, err := b.w.Spawn(b.gt, 2, 2, 0.05, 11); err != nil {
		t.Fatal(err)
	}

	rep := b.w.Step() // upkeep drains the 0.05 to zero
	if rep.Deaths != 1 {
		t.Fatalf("Deaths = %d, want 1", rep.Deaths)
	}
	if b.w.Organisms() != 0 {
		t.Errorf("Organisms = %d, want 0", b.w.Organisms())
	}

	recs := b.w.Records()
	if len(recs) != 1 {
		t.Fatalf("Records = %d, want 1", len(recs))
	}
	if recs[0].Alive || recs[0].TicksAlive != 1 {
		t.Errorf("record = %+v, want dead after 1 tick", recs[0])
	}

	// The grid cell is free again.
	if _, err := b.w.Spawn(b.gt, 2, 2, 1, 12); err != nil {
		t.Errorf("respawn on freed cell: %v", err)
	}
}

func TestLifespanReaps(t *testing.T) {
	cfg := testWorldConfig()
	cfg.Lifespan = 3
	b := newBench(t, cfg, 1)
	if _, err := b.w.Spawn(b.gt, 2, 2, 100, 11); err != nil {
		t.Fatal(err)
	}
	deaths := 0
	for i := 0; i < 5; i++ {
		deaths += b.w.Step().Deaths
	}
	if deaths != 1 {
		t.Errorf("deaths = %d, want 1", deaths)
	}
	if b.w.Organisms() != 0 {
		t.Errorf("Organisms = %d, want 0", b.w.Organisms())
	}
}

// Energy is conserved: everything injected is either stored in living
// organisms or accounted as heat, through reproduction and death.
func TestEnergyConservation(t *testing.T) {
	cfg := testWorldConfig()
	cfg.ReproThreshold = 3
	cfg.ReproCost = 2
	cfg.Lifespan = 8
	b := newBench(t, cfg, 5)

	if _, err := b.w.Spawn(b.gt, 8, 8, 1, 11); err != nil {
		t.Fatal(err)
	}
	b.w.Field().Add(0, 8, 8, 30)
	b.w.Field().Add(0, 9, 8, 30)

	for i := 0; i < 30; i++ {
		rep := b.w.Step()
		drift := math.Abs(rep.Energy + rep.Heat - rep.Injected)
		if drift > 1e-9*(1+rep.Injected) {
			t.Fatalf("tick %d: energy books off by %v (energy %v heat %v injected %v)",
				rep.Tick, drift, rep.Energy, rep.Heat, rep.Injected)
		}
	}
}

func TestStepDeterministic(t *testing.T) {
	run := func() []TickReport {
		cfg := testWorldConfig()
		cfg.ReproThreshold = 3
		cfg.ReproCost = 2
		cfg.InitialAmount = 1
		b := newBench(t, cfg, 77)
		if _, err := b.w.Spawn(b.gt, 4, 4, 1, 11); err != nil {
			t.Fatal(err)
		}
		if _, err := b.w.Spawn(b.gt, 12, 12, 1, 13); err != nil {
			t.Fatal(err)
		}
		var reps []TickReport
		for i := 0; i < 20; i++ {
			reps = append(reps, b.w.Step())
		}
		return reps
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("tick %d diverged: %+v vs %+v", i+1, a[i], b[i])
		}
	}
}

func TestClearSendsEnergyToHeat(t *testing.T) {
	b := newBench(t, testWorldConfig(), 1)
	if _, err := b.w.Spawn(b.gt, 3, 3, 5, 11); err != nil {
		t.Fatal(err)
	}
	b.w.Clear()

	if b.w.Organisms() != 0 {
		t.Errorf("Organisms = %d, want 0", b.w.Organisms())
	}
	if len(b.w.Records()) != 0 {
		t.Errorf("Records not wiped: %d", len(b.w.Records()))
	}
	if math.Abs(b.w.Heat()-5) > 1e-12 {
		t.Errorf("Heat = %v, want 5", b.w.Heat())
	}
	if _, err := b.w.Spawn(b.gt, 3, 3, 1, 12); err != nil {
		t.Errorf("respawn after Clear: %v", err)
	}
}
