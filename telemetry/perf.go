package telemetry

import (
	"log/slog"
	"time"
)

// Phase names for one epoch of the run loop.
const (
	PhaseTicks     = "ticks"     // world stepping
	PhaseEvolution = "evolution" // fitness, selection, breeding, reseeding
	PhaseTelemetry = "telemetry" // CSV rows and archive writes
	PhaseSnapshot  = "snapshot"  // snapshot serialization
)

// PerfSample holds timing data for a single epoch.
type PerfSample struct {
	Duration time.Duration
	Phases   map[string]time.Duration
}

// PerfCollector tracks run-loop timings over a rolling window of
// epochs.
type PerfCollector struct {
	windowSize  int
	samples     []PerfSample
	writeIndex  int
	sampleCount int

	currentPhases map[string]time.Duration
	epochStart    time.Time
	phaseStart    time.Time
	lastPhase     string
}

// NewPerfCollector creates a collector averaging over windowSize epochs.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 10
	}
	return &PerfCollector{
		windowSize:    windowSize,
		samples:       make([]PerfSample, windowSize),
		currentPhases: make(map[string]time.Duration),
	}
}

// StartEpoch begins timing a new epoch.
func (p *PerfCollector) StartEpoch() {
	p.epochStart = time.Now()
	p.currentPhases = make(map[string]time.Duration)
	p.lastPhase = ""
}

// StartPhase begins timing a phase, closing the previous one.
func (p *PerfCollector) StartPhase(phase string) {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

// EndEpoch finishes the current epoch and records the sample.
func (p *PerfCollector) EndEpoch() {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}

	p.samples[p.writeIndex] = PerfSample{
		Duration: now.Sub(p.epochStart),
		Phases:   p.currentPhases,
	}
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
}

// PerfStats holds aggregated timings over the current window.
type PerfStats struct {
	AvgEpoch time.Duration
	MinEpoch time.Duration
	MaxEpoch time.Duration

	// Phase share of total epoch time, in percent
	PhasePct map[string]float64

	EpochsPerSecond float64
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	if p.sampleCount == 0 {
		return PerfStats{PhasePct: make(map[string]float64)}
	}

	var total, min, max time.Duration
	phaseSum := make(map[string]time.Duration)
	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		total += s.Duration
		if i == 0 || s.Duration < min {
			min = s.Duration
		}
		if s.Duration > max {
			max = s.Duration
		}
		for phase, dur := range s.Phases {
			phaseSum[phase] += dur
		}
	}

	avg := total / time.Duration(p.sampleCount)
	pct := make(map[string]float64, len(phaseSum))
	for phase, sum := range phaseSum {
		if total > 0 {
			pct[phase] = float64(sum) / float64(total) * 100
		}
	}

	var perSec float64
	if avg > 0 {
		perSec = float64(time.Second) / float64(avg)
	}
	return PerfStats{
		AvgEpoch:        avg,
		MinEpoch:        min,
		MaxEpoch:        max,
		PhasePct:        pct,
		EpochsPerSecond: perSec,
	}
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_epoch_ms", s.AvgEpoch.Milliseconds()),
		slog.Int64("min_epoch_ms", s.MinEpoch.Milliseconds()),
		slog.Int64("max_epoch_ms", s.MaxEpoch.Milliseconds()),
		slog.Float64("epochs_per_sec", s.EpochsPerSecond),
	}
	for phase, pct := range s.PhasePct {
		attrs = append(attrs, slog.Float64(phase+"_pct", pct))
	}
	return slog.GroupValue(attrs...)
}
