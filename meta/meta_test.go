package meta

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/crucible-sim/crucible/chem"
	"github.com/crucible-sim/crucible/genome"
	"github.com/crucible-sim/crucible/vocab"
)

func testEnv(t *testing.T) (*chem.Registry, *vocab.Vocabulary) {
	t.Helper()
	reg := chem.NewRegistry(0)
	if _, err := reg.Register(chem.ChemicalBase{ID: "glucose", Name: "glucose", EnergyYield: 1}); err != nil {
		t.Fatal(err)
	}
	voc := vocab.NewVocabulary(0)
	if err := voc.Bootstrap(reg.Snapshot()); err != nil {
		t.Fatal(err)
	}
	return reg, voc
}

func TestEntropy(t *testing.T) {
	tests := []struct {
		name  string
		usage map[genome.ActionOp]int
		want  float64
	}{
		{"empty", nil, 0},
		{"single op", map[genome.ActionOp]int{genome.OpDivide: 7}, 0},
		{"two uniform", map[genome.ActionOp]int{genome.OpDivide: 5, genome.OpConsume: 5}, math.Log(2)},
		{"four uniform", map[genome.ActionOp]int{
			genome.OpDivide: 1, genome.OpConsume: 1, genome.OpProduce: 1, genome.OpApoptosis: 1,
		}, math.Log(4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Entropy(tt.usage); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Entropy = %v, want %v", got, tt.want)
			}
		})
	}
}

func diverseUsage() map[genome.ActionOp]int {
	return map[genome.ActionOp]int{
		genome.OpDivide:        3,
		genome.OpConsume:       3,
		genome.OpProduce:       3,
		genome.OpDifferentiate: 3,
	}
}

func TestObserveImprovingRunNeverInnovates(t *testing.T) {
	reg, voc := testEnv(t)
	e := New(Config{EntropyThreshold: 0.1, StagnationLimit: 3}, reg, voc, nil)
	rng := rand.New(rand.NewPCG(1, 2))

	basesBefore, condsBefore := reg.Len(), voc.Len()
	for i := 0; i < 10; i++ {
		if e.Observe(rng, EpochSummary{BestFitness: float64(i), ActionUsage: diverseUsage()}) {
			t.Fatalf("epoch %d: innovation on an improving run", i)
		}
	}
	if reg.Len() != basesBefore || voc.Len() != condsBefore {
		t.Error("registries grew without a trigger")
	}
}

func TestObserveStagnationTriggersInnovation(t *testing.T) {
	reg, voc := testEnv(t)
	e := New(Config{StagnationLimit: 3}, reg, voc, nil)
	rng := rand.New(rand.NewPCG(3, 4))

	basesBefore, condsBefore := reg.Len(), voc.Len()
	innovated := false
	for i := 0; i < 10 && !innovated; i++ {
		innovated = e.Observe(rng, EpochSummary{BestFitness: 1, ActionUsage: diverseUsage()})
	}
	if !innovated {
		t.Fatal("no innovation after 10 stagnant epochs")
	}
	if reg.Len() == basesBefore && voc.Len() == condsBefore {
		t.Error("innovation reported but nothing was registered")
	}
	if e.Stagnation() != 0 {
		t.Errorf("streak = %d after innovation, want 0", e.Stagnation())
	}
}

func TestObserveLowEntropyTriggers(t *testing.T) {
	reg, voc := testEnv(t)
	e := New(Config{EntropyThreshold: 0.5}, reg, voc, nil)
	rng := rand.New(rand.NewPCG(5, 6))

	// Monoculture: every rule in the population does the same thing.
	usage := map[genome.ActionOp]int{genome.OpDivide: 40}

	innovated := false
	for i := 0; i < 5 && !innovated; i++ {
		// Rising fitness, so only the entropy detector can fire.
		innovated = e.Observe(rng, EpochSummary{BestFitness: float64(i), ActionUsage: usage})
	}
	if !innovated {
		t.Fatal("entropy detector never fired on a monoculture")
	}
}

func TestStateRoundTrip(t *testing.T) {
	reg, voc := testEnv(t)
	e := New(Config{StagnationLimit: 5}, reg, voc, nil)
	rng := rand.New(rand.NewPCG(15, 16))

	e.Observe(rng, EpochSummary{BestFitness: 3, ActionUsage: diverseUsage()})
	e.Observe(rng, EpochSummary{BestFitness: 2, ActionUsage: diverseUsage()})
	e.Observe(rng, EpochSummary{BestFitness: 2, ActionUsage: diverseUsage()})

	st := e.ExportState()
	if st.Stagnation != 2 || !st.HasBest || st.BestFitness != 3 {
		t.Fatalf("exported state = %+v", st)
	}

	fresh := New(Config{StagnationLimit: 5}, reg, voc, nil)
	fresh.RestoreState(st)
	if fresh.ExportState() != st {
		t.Errorf("restored state = %+v, want %+v", fresh.ExportState(), st)
	}

	// A non-improving epoch extends the restored streak, not a new one.
	fresh.Observe(rng, EpochSummary{BestFitness: 3, ActionUsage: diverseUsage()})
	if fresh.Stagnation() != 3 {
		t.Errorf("streak after restore = %d, want 3", fresh.Stagnation())
	}

	// Invention counters never move backwards.
	fresh.RestoreState(State{})
	got := fresh.ExportState()
	if got.NextBase != st.NextBase || got.NextCond != st.NextCond {
		t.Errorf("counters regressed: %+v", got)
	}
}

func TestInventBaseRespectsCapacity(t *testing.T) {
	reg := chem.NewRegistry(1)
	if _, err := reg.Register(chem.ChemicalBase{ID: "glucose", Name: "glucose"}); err != nil {
		t.Fatal(err)
	}
	voc := vocab.NewVocabulary(0)
	e := New(Config{}, reg, voc, nil)

	if _, ok := e.InventBase(rand.New(rand.NewPCG(7, 8))); ok {
		t.Error("InventBase succeeded on a full registry")
	}
	if reg.Len() != 1 {
		t.Errorf("registry grew to %d", reg.Len())
	}
}

func TestInventConditionValidatesAndGrows(t *testing.T) {
	reg, voc := testEnv(t)
	e := New(Config{}, reg, voc, nil)
	rng := rand.New(rand.NewPCG(9, 10))

	before := voc.Len()
	for i := 0; i < 20; i++ {
		if _, ok := e.InventCondition(rng); !ok {
			t.Fatalf("invention %d failed", i)
		}
	}
	if voc.Len() != before+20 {
		t.Errorf("vocabulary grew by %d, want 20", voc.Len()-before)
	}
}

func TestInventConditionEmptyVocabulary(t *testing.T) {
	reg := chem.NewRegistry(0)
	if _, err := reg.Register(chem.ChemicalBase{ID: "glucose", Name: "glucose"}); err != nil {
		t.Fatal(err)
	}
	voc := vocab.NewVocabulary(0)
	e := New(Config{}, reg, voc, nil)

	if _, ok := e.InventCondition(rand.New(rand.NewPCG(11, 12))); ok {
		t.Error("InventCondition succeeded with nothing to compose from")
	}
}

func TestInventedBasesUsableByGenotypes(t *testing.T) {
	reg, voc := testEnv(t)
	e := New(Config{}, reg, voc, nil)
	rng := rand.New(rand.NewPCG(13, 14))

	id, ok := e.InventBase(rng)
	if !ok {
		t.Fatal("InventBase failed")
	}
	gt := &genome.Genotype{
		ID:    "G-0000001",
		Genes: []genome.Gene{{ID: "g0", Base: id, Mode: genome.ModeConsume, Rate: 1}},
	}
	if err := gt.Validate(reg.Snapshot(), voc); err != nil {
		t.Errorf("genotype over invented base invalid: %v", err)
	}
}
