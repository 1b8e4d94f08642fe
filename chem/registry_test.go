package chem

import (
	"errors"
	"testing"

	"github.com/crucible-sim/crucible/fault"
)

func testBase(id string) ChemicalBase {
	return ChemicalBase{
		ID:            BaseID(id),
		Name:          id,
		EnergyYield:   1.0,
		DiffusionRate: 0.1,
		DecayRate:     0.01,
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry(8)

	id, err := r.Register(testBase("glucose"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id != "glucose" {
		t.Errorf("id = %q, want glucose", id)
	}

	got, err := r.Lookup("glucose")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.EnergyYield != 1.0 {
		t.Errorf("EnergyYield = %v, want 1.0", got.EnergyYield)
	}
}

func TestRegisterErrors(t *testing.T) {
	r := NewRegistry(2)
	if _, err := r.Register(testBase("a")); err != nil {
		t.Fatalf("Register a: %v", err)
	}

	tests := []struct {
		name string
		def  ChemicalBase
		want error
	}{
		{"duplicate", testBase("a"), fault.ErrDuplicateID},
		{"capacity", testBase("c"), fault.ErrCapacityExceeded},
		{"empty id", ChemicalBase{Name: "nameless"}, fault.ErrConfig},
	}

	// Fill to capacity before the capacity case.
	if _, err := r.Register(testBase("b")); err != nil {
		t.Fatalf("Register b: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(tt.def)
			if !errors.Is(err, tt.want) {
				t.Errorf("Register(%q) err = %v, want %v", tt.def.ID, err, tt.want)
			}
		})
	}

	// Capacity errors are recoverable: the registry is unchanged.
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}
}

func TestLookupUnknown(t *testing.T) {
	r := NewRegistry(4)
	if _, err := r.Lookup("nope"); !errors.Is(err, fault.ErrUnknownID) {
		t.Errorf("Lookup err = %v, want ErrUnknownID", err)
	}
}

func TestListOrderStable(t *testing.T) {
	r := NewRegistry(0)
	ids := []string{"glucose", "silicate", "methanol", "ferrite"}
	for _, id := range ids {
		if _, err := r.Register(testBase(id)); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}

	list := r.List()
	for i, id := range ids {
		if list[i].ID != BaseID(id) {
			t.Errorf("List[%d] = %q, want %q", i, list[i].ID, id)
		}
	}
}

func TestSnapshotImmutableUnderRegistration(t *testing.T) {
	r := NewRegistry(0)
	if _, err := r.Register(testBase("a")); err != nil {
		t.Fatal(err)
	}

	snap := r.Snapshot()
	v := snap.Version()

	if _, err := r.Register(testBase("b")); err != nil {
		t.Fatal(err)
	}

	if snap.Len() != 1 {
		t.Errorf("snapshot Len = %d, want 1 (snapshots are frozen)", snap.Len())
	}
	if snap.Version() != v {
		t.Errorf("snapshot version changed from %d to %d", v, snap.Version())
	}
	if _, ok := snap.Index("b"); ok {
		t.Error("snapshot sees base registered after it was taken")
	}
	if r.Version() <= v {
		t.Errorf("registry version = %d, want > %d", r.Version(), v)
	}
}

func TestSizeMonotonic(t *testing.T) {
	r := NewRegistry(3)
	prev := 0
	for _, id := range []string{"a", "a", "b", "c", "d"} {
		r.Register(testBase(id)) // errors intentionally ignored
		if r.Len() < prev {
			t.Fatalf("Len decreased from %d to %d", prev, r.Len())
		}
		prev = r.Len()
	}
}
