package telemetry

import "github.com/crucible-sim/crucible/world"

// Collector accumulates tick reports within an epoch and produces the
// aggregate counters EpochStats needs.
type Collector struct {
	births int
	deaths int
	ticks  int
	last   world.TickReport
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Record ingests one tick report.
func (c *Collector) Record(rep world.TickReport) {
	c.births += rep.Births
	c.deaths += rep.Deaths
	c.ticks++
	c.last = rep
}

// Births returns births accumulated since the last Reset.
func (c *Collector) Births() int { return c.births }

// Deaths returns deaths accumulated since the last Reset.
func (c *Collector) Deaths() int { return c.deaths }

// Ticks returns how many reports were recorded since the last Reset.
func (c *Collector) Ticks() int { return c.ticks }

// Last returns the most recent tick report.
func (c *Collector) Last() world.TickReport { return c.last }

// TickStats derives a tick-window row from the accumulated counters
// and the energy distribution of the living population.
func (c *Collector) TickStats(energies []float64) TickStats {
	mean, p10, p50, p90 := ComputeEnergyStats(energies)
	return TickStats{
		Tick:          c.last.Tick,
		Organisms:     c.last.Organisms,
		Births:        c.births,
		Deaths:        c.deaths,
		EnergyMean:    mean,
		EnergyP10:     p10,
		EnergyP50:     p50,
		EnergyP90:     p90,
		TotalEnergy:   c.last.Energy,
		HeatLossAccum: c.last.Heat,
		EnergyInput:   c.last.Injected,
	}
}

// Reset clears the window counters for the next epoch.
func (c *Collector) Reset() {
	c.births = 0
	c.deaths = 0
	c.ticks = 0
}
