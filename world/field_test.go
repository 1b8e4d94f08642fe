package world

import (
	"math"
	"testing"

	"github.com/crucible-sim/crucible/chem"
)

func fieldRegistry(t *testing.T, bases ...chem.ChemicalBase) *chem.Registry {
	t.Helper()
	r := chem.NewRegistry(0)
	for _, b := range bases {
		if _, err := r.Register(b); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func TestDiffuseConservesMass(t *testing.T) {
	r := fieldRegistry(t, chem.ChemicalBase{ID: "glucose", DiffusionRate: 0.5})
	f := NewField(16, 16, r.Snapshot(), 42, DefaultNoise(), 1)

	before := f.Total(0)
	for i := 0; i < 50; i++ {
		f.Diffuse(1)
	}
	after := f.Total(0)

	if math.Abs(before-after) > 1e-9*before {
		t.Errorf("mass changed under diffusion: %v -> %v", before, after)
	}

	// Diffusion flattens: the spread of values must shrink.
	if spread(f.Data(0)) >= spread(initialCopy(t, r)) {
		t.Error("diffusion did not flatten the grid")
	}
}

func initialCopy(t *testing.T, r *chem.Registry) []float64 {
	t.Helper()
	f := NewField(16, 16, r.Snapshot(), 42, DefaultNoise(), 1)
	return f.Data(0)
}

func spread(g []float64) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range g {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return hi - lo
}

func TestDecayReturnsLostMass(t *testing.T) {
	r := fieldRegistry(t, chem.ChemicalBase{ID: "glucose", DecayRate: 0.1})
	f := NewField(8, 8, r.Snapshot(), 7, DefaultNoise(), 1)

	before := f.Total(0)
	lost := f.Decay(1)
	after := f.Total(0)

	if math.Abs((before-after)-lost) > 1e-9 {
		t.Errorf("Decay reported %v lost, grid lost %v", lost, before-after)
	}
	if math.Abs(lost-before*0.1) > 1e-9 {
		t.Errorf("lost = %v, want %v", lost, before*0.1)
	}
}

func TestTakeClampsToAvailability(t *testing.T) {
	r := fieldRegistry(t, chem.ChemicalBase{ID: "glucose"})
	f := NewField(4, 4, r.Snapshot(), 1, DefaultNoise(), 0)

	f.Add(0, 2, 2, 1.5)
	if got := f.Take(0, 2, 2, 1.0); got != 1.0 {
		t.Errorf("Take = %v, want 1.0", got)
	}
	if got := f.Take(0, 2, 2, 1.0); got != 0.5 {
		t.Errorf("second Take = %v, want 0.5", got)
	}
	if got := f.At(0, 2, 2); got != 0 {
		t.Errorf("At = %v, want 0", got)
	}
	if got := f.Take(0, 2, 2, 1.0); got != 0 {
		t.Errorf("Take from empty = %v, want 0", got)
	}
}

func TestCoordinatesWrap(t *testing.T) {
	r := fieldRegistry(t, chem.ChemicalBase{ID: "glucose"})
	f := NewField(4, 4, r.Snapshot(), 1, DefaultNoise(), 0)

	f.Add(0, -1, -1, 2)
	if got := f.At(0, 3, 3); got != 2 {
		t.Errorf("At(3,3) = %v, want 2 (wrapped)", got)
	}
	if got := f.At(0, 7, 7); got != 2 {
		t.Errorf("At(7,7) = %v, want 2 (wrapped)", got)
	}
}

func TestSyncAddsGridsWithoutDisturbingExisting(t *testing.T) {
	r := fieldRegistry(t, chem.ChemicalBase{ID: "glucose"})
	f := NewField(8, 8, r.Snapshot(), 3, DefaultNoise(), 1)
	before := f.Total(0)

	if _, err := r.Register(chem.ChemicalBase{ID: "silicate"}); err != nil {
		t.Fatal(err)
	}
	f.Sync(r.Snapshot())

	if f.Bases() != 2 {
		t.Fatalf("Bases = %d, want 2", f.Bases())
	}
	if got := f.Total(0); got != before {
		t.Errorf("existing grid changed: %v -> %v", before, got)
	}
	if i, ok := f.Index("silicate"); !ok || i != 1 {
		t.Errorf("Index(silicate) = %d,%v, want 1,true", i, ok)
	}
}

func TestGradientOfUniformFieldIsZero(t *testing.T) {
	r := fieldRegistry(t, chem.ChemicalBase{ID: "glucose"})
	f := NewField(8, 8, r.Snapshot(), 1, DefaultNoise(), 0)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			f.Add(0, x, y, 3)
		}
	}
	if got := f.GradientMag(0, 4, 4); got != 0 {
		t.Errorf("GradientMag = %v, want 0", got)
	}
}

func TestFieldDeterministicBySeed(t *testing.T) {
	r := fieldRegistry(t, chem.ChemicalBase{ID: "glucose"})
	a := NewField(16, 16, r.Snapshot(), 99, DefaultNoise(), 1)
	b := NewField(16, 16, r.Snapshot(), 99, DefaultNoise(), 1)
	c := NewField(16, 16, r.Snapshot(), 100, DefaultNoise(), 1)

	same, diff := true, false
	for i, v := range a.Data(0) {
		if b.Data(0)[i] != v {
			same = false
		}
		if c.Data(0)[i] != v {
			diff = true
		}
	}
	if !same {
		t.Error("same seed produced different terrain")
	}
	if !diff {
		t.Error("different seed produced identical terrain")
	}
}
