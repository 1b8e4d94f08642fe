package vocab

import (
	"errors"
	"testing"

	"github.com/crucible-sim/crucible/chem"
	"github.com/crucible-sim/crucible/fault"
)

func testSnapshot(t *testing.T, ids ...string) *chem.Snapshot {
	t.Helper()
	r := chem.NewRegistry(0)
	for _, id := range ids {
		if _, err := r.Register(chem.ChemicalBase{ID: chem.BaseID(id), Name: id, EnergyYield: 1}); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}
	return r.Snapshot()
}

func TestRegisterValidation(t *testing.T) {
	reg := testSnapshot(t, "glucose")
	v := NewVocabulary(0)

	tests := []struct {
		name  string
		entry Entry
		want  error
	}{
		{
			"unknown base",
			Entry{ID: "bad", Expr: Expr{Op: OpSense, Channel: ChanConcentration, Base: "plutonium"}},
			fault.ErrUnknownID,
		},
		{
			"empty id",
			Entry{Expr: Expr{Op: OpSense, Channel: ChanEnergy}},
			fault.ErrConfig,
		},
		{
			"unknown op",
			Entry{ID: "bad", Expr: Expr{Op: "teleport"}},
			fault.ErrInvalidRule,
		},
		{
			"empty weighted_sum",
			Entry{ID: "bad", Expr: Expr{Op: OpWeightedSum}},
			fault.ErrInvalidRule,
		},
		{
			"scale arity",
			Entry{ID: "bad", Expr: Expr{Op: OpScale, Factor: 2}},
			fault.ErrInvalidRule,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Register(tt.entry, reg); !errors.Is(err, tt.want) {
				t.Errorf("Register err = %v, want %v", err, tt.want)
			}
		})
	}

	if v.Len() != 0 {
		t.Errorf("Len = %d after rejected registrations, want 0", v.Len())
	}
}

func TestRegisterDuplicateAndCapacity(t *testing.T) {
	reg := testSnapshot(t, "glucose")
	v := NewVocabulary(1)

	sense := Entry{ID: "c1", Expr: Expr{Op: OpSense, Channel: ChanEnergy}}
	if _, err := v.Register(sense, reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := v.Register(sense, reg); !errors.Is(err, fault.ErrDuplicateID) {
		t.Errorf("duplicate err = %v, want ErrDuplicateID", err)
	}
	other := Entry{ID: "c2", Expr: Expr{Op: OpSense, Channel: ChanAge}}
	if _, err := v.Register(other, reg); !errors.Is(err, fault.ErrCapacityExceeded) {
		t.Errorf("capacity err = %v, want ErrCapacityExceeded", err)
	}
}

func TestBootstrapSeedsSenses(t *testing.T) {
	reg := testSnapshot(t, "glucose", "silicate")
	v := NewVocabulary(0)
	if err := v.Bootstrap(reg); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	// One per base plus age, energy, cell_count, marker.
	if v.Len() != 6 {
		t.Fatalf("Len = %d, want 6", v.Len())
	}
	for _, id := range []ConditionID{"sense_glucose", "sense_silicate", "sense_age", "sense_energy", "sense_cell_count", "sense_marker"} {
		if !v.Has(id) {
			t.Errorf("missing bootstrap entry %q", id)
		}
	}

	// Bootstrap is idempotent.
	if err := v.Bootstrap(reg); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if v.Len() != 6 {
		t.Errorf("Len = %d after re-bootstrap, want 6", v.Len())
	}
}

func TestEvaluate(t *testing.T) {
	reg := testSnapshot(t, "glucose", "silicate")
	v := NewVocabulary(0)
	if err := v.Bootstrap(reg); err != nil {
		t.Fatal(err)
	}

	combo := Entry{
		ID:          "hungry_in_rich_patch",
		Description: "low energy weighted against neighborhood glucose",
		Expr: Expr{
			Op:      OpWeightedSum,
			Weights: []float64{-1, 0.5},
			Args: []Expr{
				{Op: OpSense, Channel: ChanEnergy},
				{Op: OpNeighbor, Agg: AggMean, Base: "glucose"},
			},
		},
	}
	if _, err := v.Register(combo, reg); err != nil {
		t.Fatalf("Register combo: %v", err)
	}

	s := &Sensed{
		Own:          []float64{3.0, 0.5},
		NeighborMean: []float64{2.0, 0.0},
		Energy:       4.0,
		Age:          7,
	}

	tests := []struct {
		id   ConditionID
		want float64
	}{
		{"sense_glucose", 3.0},
		{"sense_silicate", 0.5},
		{"sense_energy", 4.0},
		{"sense_age", 7},
		{"hungry_in_rich_patch", -1*4.0 + 0.5*2.0},
	}
	for _, tt := range tests {
		got, err := v.Evaluate(tt.id, reg, s)
		if err != nil {
			t.Fatalf("Evaluate(%s): %v", tt.id, err)
		}
		if got != tt.want {
			t.Errorf("Evaluate(%s) = %v, want %v", tt.id, got, tt.want)
		}
	}

	if _, err := v.Evaluate("never_registered", reg, s); !errors.Is(err, fault.ErrUnknownID) {
		t.Errorf("Evaluate unknown err = %v, want ErrUnknownID", err)
	}
}

func TestEvaluateNeighborCountAndScale(t *testing.T) {
	reg := testSnapshot(t, "glucose")
	v := NewVocabulary(0)

	entries := []Entry{
		{ID: "crowding", Expr: Expr{Op: OpNeighbor, Agg: AggCount}},
		{ID: "double_grad", Expr: Expr{
			Op: OpScale, Factor: 2,
			Args: []Expr{{Op: OpGradient, Base: "glucose"}},
		}},
	}
	for _, e := range entries {
		if _, err := v.Register(e, reg); err != nil {
			t.Fatalf("Register %s: %v", e.ID, err)
		}
	}

	s := &Sensed{NeighborCount: 3, Gradient: []float64{0.25}}
	if got, _ := v.Evaluate("crowding", reg, s); got != 3 {
		t.Errorf("crowding = %v, want 3", got)
	}
	if got, _ := v.Evaluate("double_grad", reg, s); got != 0.5 {
		t.Errorf("double_grad = %v, want 0.5", got)
	}
}

func TestDepthLimit(t *testing.T) {
	reg := testSnapshot(t, "glucose")
	v := NewVocabulary(0)

	e := Expr{Op: OpSense, Channel: ChanEnergy}
	for i := 0; i <= maxDepth; i++ {
		e = Expr{Op: OpScale, Factor: 1, Args: []Expr{e}}
	}
	_, err := v.Register(Entry{ID: "deep", Expr: e}, reg)
	if !errors.Is(err, fault.ErrInvalidRule) {
		t.Errorf("deep register err = %v, want ErrInvalidRule", err)
	}
}

func TestOldSnapshotStillEvaluates(t *testing.T) {
	r := chem.NewRegistry(0)
	if _, err := r.Register(chem.ChemicalBase{ID: "glucose", Name: "glucose"}); err != nil {
		t.Fatal(err)
	}
	old := r.Snapshot()

	v := NewVocabulary(0)
	if err := v.Bootstrap(old); err != nil {
		t.Fatal(err)
	}

	// A base registered after the snapshot must not shift indices the
	// old snapshot resolves.
	if _, err := r.Register(chem.ChemicalBase{ID: "silicate", Name: "silicate"}); err != nil {
		t.Fatal(err)
	}

	s := &Sensed{Own: []float64{1.5}}
	got, err := v.Evaluate("sense_glucose", old, s)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1.5 {
		t.Errorf("Evaluate = %v, want 1.5", got)
	}
}
