// Package telemetry provides run observability: windowed tick and
// epoch statistics, CSV output, run-loop timing, and snapshot
// serialization to disk.
package telemetry

import (
	"log/slog"
	"sort"
)

// TickStats holds aggregated statistics for a window of ticks.
type TickStats struct {
	Tick      int `csv:"tick"`
	Organisms int `csv:"organisms"`
	Births    int `csv:"births"`
	Deaths    int `csv:"deaths"`

	// Energy distribution over living organisms at window end
	EnergyMean float64 `csv:"energy_mean"`
	EnergyP10  float64 `csv:"energy_p10"`
	EnergyP50  float64 `csv:"energy_p50"`
	EnergyP90  float64 `csv:"energy_p90"`

	// Energy pools (for conservation validation)
	TotalEnergy   float64 `csv:"total_energy"`    // energy stored in living organisms
	HeatLossAccum float64 `csv:"heat_loss_accum"` // cumulative energy lost to heat
	EnergyInput   float64 `csv:"energy_input"`    // cumulative energy from uptake and seeding
}

// EpochStats is one row of the run's history: a generation boundary
// summary written to CSV and the archive.
type EpochStats struct {
	Epoch      int `csv:"epoch"`
	Generation int `csv:"generation"`

	Organisms int `csv:"organisms"`
	Births    int `csv:"births"`
	Deaths    int `csv:"deaths"`

	BestFitness float64 `csv:"best_fitness"`
	MeanFitness float64 `csv:"mean_fitness"`
	Diversity   float64 `csv:"diversity"` // entropy of rule-action usage

	ChemicalBases int `csv:"chemical_bases"`
	Conditions    int `csv:"conditions"`

	TotalEnergy   float64 `csv:"total_energy"`
	HeatLossAccum float64 `csv:"heat_loss_accum"`
	EnergyInput   float64 `csv:"energy_input"`

	Innovated bool `csv:"innovated"`
}

// LogValue implements slog.LogValuer for structured logging.
func (s EpochStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("epoch", s.Epoch),
		slog.Int("generation", s.Generation),
		slog.Int("organisms", s.Organisms),
		slog.Int("births", s.Births),
		slog.Int("deaths", s.Deaths),
		slog.Float64("best_fitness", s.BestFitness),
		slog.Float64("mean_fitness", s.MeanFitness),
		slog.Float64("diversity", s.Diversity),
		slog.Int("chemical_bases", s.ChemicalBases),
		slog.Int("conditions", s.Conditions),
		slog.Float64("total_energy", s.TotalEnergy),
		slog.Float64("heat_loss_accum", s.HeatLossAccum),
		slog.Float64("energy_input", s.EnergyInput),
		slog.Bool("innovated", s.Innovated),
	)
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if the slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeEnergyStats calculates mean and percentiles from energy values.
func ComputeEnergyStats(values []float64) (mean, p10, p50, p90 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(n)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)
	return mean, p10, p50, p90
}
