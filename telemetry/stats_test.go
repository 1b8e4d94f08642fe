package telemetry

import (
	"math"
	"testing"

	"github.com/crucible-sim/crucible/world"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 0.5, 0},
		{"single", []float64{3}, 0.5, 3},
		{"median of pair", []float64{1, 3}, 0.5, 2},
		{"p0", []float64{1, 2, 3}, 0, 1},
		{"p100", []float64{1, 2, 3}, 1, 3},
		{"interpolated", []float64{0, 10}, 0.25, 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Percentile(tt.sorted, tt.p); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Percentile = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeEnergyStats(t *testing.T) {
	mean, p10, p50, p90 := ComputeEnergyStats([]float64{4, 1, 3, 2})
	if mean != 2.5 {
		t.Errorf("mean = %v, want 2.5", mean)
	}
	if p50 != 2.5 {
		t.Errorf("p50 = %v, want 2.5", p50)
	}
	if p10 >= p90 {
		t.Errorf("p10 %v not below p90 %v", p10, p90)
	}

	// Input must not be reordered.
	in := []float64{4, 1, 3, 2}
	ComputeEnergyStats(in)
	if in[0] != 4 || in[3] != 2 {
		t.Errorf("input mutated: %v", in)
	}
}

func TestCollectorAccumulatesAcrossTicks(t *testing.T) {
	c := NewCollector()
	c.Record(world.TickReport{Tick: 1, Organisms: 5, Births: 1, Deaths: 0, Energy: 10, Heat: 1, Injected: 11})
	c.Record(world.TickReport{Tick: 2, Organisms: 6, Births: 2, Deaths: 1, Energy: 12, Heat: 2, Injected: 14})

	if c.Births() != 3 || c.Deaths() != 1 || c.Ticks() != 2 {
		t.Errorf("births=%d deaths=%d ticks=%d", c.Births(), c.Deaths(), c.Ticks())
	}

	stats := c.TickStats([]float64{2, 2, 2, 2, 2, 2})
	if stats.Tick != 2 || stats.Organisms != 6 {
		t.Errorf("stats window end wrong: %+v", stats)
	}
	if stats.EnergyMean != 2 || stats.EnergyP50 != 2 {
		t.Errorf("energy stats wrong: %+v", stats)
	}
	if stats.TotalEnergy != 12 || stats.HeatLossAccum != 2 || stats.EnergyInput != 14 {
		t.Errorf("pools wrong: %+v", stats)
	}

	c.Reset()
	if c.Births() != 0 || c.Ticks() != 0 {
		t.Error("Reset did not clear counters")
	}
	if c.Last().Tick != 2 {
		t.Error("Reset dropped the last report")
	}
}

func TestSnapshotRoundTripOnDisk(t *testing.T) {
	type doc struct {
		Version int       `json:"version"`
		Tick    int       `json:"tick"`
		Values  []float64 `json:"values"`
	}
	dir := t.TempDir()

	in := doc{Version: 1, Tick: 42, Values: []float64{1.5, 2.5}}
	path, err := SaveSnapshot(in, in.Tick, dir)
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	var out doc
	if err := LoadSnapshot(path, &out); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if out.Version != in.Version || out.Tick != in.Tick || len(out.Values) != 2 {
		t.Errorf("round trip mismatch: %+v", out)
	}
}
