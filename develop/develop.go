// Package develop grows a multicellular phenotype from a genotype.
// Development is a pure, deterministic function of (genotype, registry
// snapshot, vocabulary, seed): the same inputs always yield the same
// cell arena, bit for bit.
package develop

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/crucible-sim/crucible/chem"
	"github.com/crucible-sim/crucible/fault"
	"github.com/crucible-sim/crucible/genome"
	"github.com/crucible-sim/crucible/vocab"
)

// Sampler exposes the local field context of the organism's world
// position during development. A nil sampler senses zero gradients,
// which is what an isolated in-vitro Grow call wants.
type Sampler interface {
	// Gradients returns per-base field gradient magnitudes indexed by
	// registry-snapshot order.
	Gradients() []float64
}

// SplitPolicy says what happens to a dividing cell's chemistry.
type SplitPolicy string

const (
	SplitHalve     SplitPolicy = "split"     // parent and daughter get half each
	SplitDuplicate SplitPolicy = "duplicate" // daughter copies the parent
)

// Config bounds one development run.
type Config struct {
	StepCap       int                     `yaml:"step_cap"`         // hard limit on development steps
	MaxCells      int                     `yaml:"max_cells"`        // hard limit on arena size
	DivideCost    float64                 `yaml:"divide_cost"`      // energy a cell must hold to divide
	InitialEnergy float64                 `yaml:"initial_energy"`   // zygote starting energy
	InitialChem   map[chem.BaseID]float64 `yaml:"initial_chem"`     // zygote starting concentrations
	Split         SplitPolicy             `yaml:"split_policy"`     // split or duplicate
	ChemNoise     float64                 `yaml:"chem_noise_sigma"` // lognormal sigma on daughter chemistry; 0 disables
}

// Cell is one unit of a phenotype. Coordinates are body-relative, the
// zygote sits at (0,0). Parent is an arena index, -1 for the zygote.
type Cell struct {
	X      int       `json:"x" yaml:"x"`
	Y      int       `json:"y" yaml:"y"`
	Conc   []float64 `json:"conc" yaml:"conc"` // per base, registry-snapshot order
	Energy float64   `json:"energy" yaml:"energy"`
	Age    float64   `json:"age" yaml:"age"`
	Marker float64   `json:"marker" yaml:"marker"`
	Alive  bool      `json:"alive" yaml:"alive"`
	Parent int       `json:"parent" yaml:"parent"`
}

// Phenotype is the grown cell arena. Read-only after Grow returns.
type Phenotype struct {
	Cells  []Cell `json:"cells" yaml:"cells"`
	Steps  int    `json:"steps" yaml:"steps"`
	Stable bool   `json:"stable" yaml:"stable"`

	occupied map[[2]int]int
}

// LiveCount returns the number of living cells.
func (p *Phenotype) LiveCount() int {
	n := 0
	for i := range p.Cells {
		if p.Cells[i].Alive {
			n++
		}
	}
	return n
}

// At returns the arena index of the cell at body coordinates (x, y).
func (p *Phenotype) At(x, y int) (int, bool) {
	i, ok := p.occupied[[2]int{x, y}]
	return i, ok
}

// Reindex rebuilds the arena's position index from its cells. Needed
// after deserializing a phenotype, which carries cells but not the
// index.
func (p *Phenotype) Reindex() {
	p.occupied = make(map[[2]int]int, len(p.Cells))
	for i := range p.Cells {
		if p.Cells[i].Alive {
			p.occupied[[2]int{p.Cells[i].X, p.Cells[i].Y}] = i
		}
	}
}

// TotalEnergy sums stored energy over living cells.
func (p *Phenotype) TotalEnergy() float64 {
	var sum float64
	for i := range p.Cells {
		if p.Cells[i].Alive {
			sum += p.Cells[i].Energy
		}
	}
	return sum
}

// clockwise unit neighborhood starting north; divide placement probes
// from the rule's offset in this order.
var neighborhood = [8][2]int{
	{0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1},
}

// Engine runs development under a fixed configuration.
type Engine struct {
	cfg Config
}

// NewEngine validates the configuration.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.StepCap <= 0 {
		return nil, fmt.Errorf("develop: %w: step_cap must be positive", fault.ErrConfig)
	}
	if cfg.MaxCells <= 0 {
		return nil, fmt.Errorf("develop: %w: max_cells must be positive", fault.ErrConfig)
	}
	if cfg.DivideCost < 0 {
		return nil, fmt.Errorf("develop: %w: divide_cost must not be negative", fault.ErrConfig)
	}
	if cfg.Split != SplitHalve && cfg.Split != SplitDuplicate {
		return nil, fmt.Errorf("develop: %w: split_policy %q", fault.ErrConfig, cfg.Split)
	}
	return &Engine{cfg: cfg}, nil
}

// Grow develops gt into a phenotype. Each step walks living cells in
// arena order; each cell evaluates the genotype's rules in order and
// applies the first rule whose condition holds and whose action is
// feasible. Termination: no rule fired in a full pass (stable), the
// step cap (phenotype kept, fault.ErrNonConvergent), or the cell cap
// (phenotype truncated, fault.ErrCapacityExceeded).
func (e *Engine) Grow(gt *genome.Genotype, reg *chem.Snapshot, voc *vocab.Vocabulary, seed uint64, samp Sampler) (*Phenotype, error) {
	rng := rand.New(rand.NewPCG(seed, 0))
	noise := distuv.LogNormal{Mu: 0, Sigma: e.cfg.ChemNoise, Src: rng}

	p := &Phenotype{occupied: make(map[[2]int]int)}
	p.Cells = append(p.Cells, e.zygote(reg))
	p.occupied[[2]int{0, 0}] = 0

	var grad []float64
	if samp != nil {
		grad = samp.Gradients()
	}

	for p.Steps = 0; p.Steps < e.cfg.StepCap; p.Steps++ {
		fired := false
		liveCount := float64(p.LiveCount())
		// Daughters born this step join the arena immediately but act
		// only from the next step on.
		existing := len(p.Cells)

		for i := 0; i < existing; i++ {
			if !p.Cells[i].Alive {
				continue
			}
			sensed := p.sense(i, reg, grad, liveCount)
			for _, rule := range gt.Rules {
				value, err := voc.Evaluate(rule.Condition, reg, sensed)
				if err != nil {
					return p, fmt.Errorf("develop %s: %w", gt.ID, err)
				}
				if !rule.Matches(value) {
					continue
				}
				ok, full := e.apply(p, i, rule.Action, gt, reg, rng, noise)
				if full {
					return p, fmt.Errorf("develop %s: %w: max_cells=%d", gt.ID, fault.ErrCapacityExceeded, e.cfg.MaxCells)
				}
				if ok {
					fired = true
					break // first matching feasible rule wins
				}
			}
		}

		for i := 0; i < existing; i++ {
			if p.Cells[i].Alive {
				p.Cells[i].Age++
			}
		}
		if !fired {
			p.Stable = true
			return p, nil
		}
	}
	return p, fmt.Errorf("develop %s: %w: step_cap=%d", gt.ID, fault.ErrNonConvergent, e.cfg.StepCap)
}

func (e *Engine) zygote(reg *chem.Snapshot) Cell {
	c := Cell{
		Conc:   make([]float64, reg.Len()),
		Energy: e.cfg.InitialEnergy,
		Alive:  true,
		Parent: -1,
	}
	for id, amount := range e.cfg.InitialChem {
		if i, ok := reg.Index(id); ok {
			c.Conc[i] = amount
		}
	}
	return c
}

func (p *Phenotype) sense(i int, reg *chem.Snapshot, grad []float64, liveCount float64) *vocab.Sensed {
	c := &p.Cells[i]
	mean := make([]float64, reg.Len())
	count := 0
	for _, off := range neighborhood {
		j, ok := p.occupied[[2]int{c.X + off[0], c.Y + off[1]}]
		if !ok || !p.Cells[j].Alive {
			continue
		}
		count++
		for k, v := range p.Cells[j].Conc {
			mean[k] += v
		}
	}
	if count > 0 {
		for k := range mean {
			mean[k] /= float64(count)
		}
	}
	return &vocab.Sensed{
		Own:           c.Conc,
		NeighborMean:  mean,
		NeighborCount: count,
		Gradient:      grad,
		Age:           c.Age,
		Energy:        c.Energy,
		CellCount:     liveCount,
		Marker:        c.Marker,
	}
}

// apply executes the action on cell i when feasible. Returns whether
// the action fired and whether the cell cap was hit.
func (e *Engine) apply(p *Phenotype, i int, a genome.Action, gt *genome.Genotype, reg *chem.Snapshot, rng *rand.Rand, noise distuv.LogNormal) (fired, full bool) {
	c := &p.Cells[i]
	switch a.Op {
	case genome.OpProduce:
		gn, _ := gt.Gene(a.Gene)
		if k, ok := reg.Index(gn.Base); ok {
			c.Conc[k] += gn.Rate
			return true, false
		}
		return false, false
	case genome.OpConsume:
		gn, _ := gt.Gene(a.Gene)
		k, ok := reg.Index(gn.Base)
		if !ok || c.Conc[k] <= 0 {
			return false, false
		}
		c.Conc[k] = max(0, c.Conc[k]-gn.Rate)
		return true, false
	case genome.OpDivide:
		if c.Energy < e.cfg.DivideCost {
			return false, false
		}
		x, y, ok := p.freeSpot(c.X, c.Y, a.OffsetX, a.OffsetY)
		if !ok {
			return false, false
		}
		if len(p.Cells) >= e.cfg.MaxCells {
			return false, true
		}
		e.divide(p, i, x, y, rng, noise)
		return true, false
	case genome.OpDifferentiate:
		c.Marker = a.Marker
		return true, false
	case genome.OpApoptosis:
		c.Alive = false
		return true, false
	default: // noop
		return true, false
	}
}

// freeSpot probes the preferred offset, then the rest of the unit
// neighborhood clockwise from it.
func (p *Phenotype) freeSpot(x, y, dx, dy int) (int, int, bool) {
	start := 0
	for k, off := range neighborhood {
		if off[0] == dx && off[1] == dy {
			start = k
			break
		}
	}
	for k := 0; k < len(neighborhood); k++ {
		off := neighborhood[(start+k)%len(neighborhood)]
		nx, ny := x+off[0], y+off[1]
		if _, taken := p.occupied[[2]int{nx, ny}]; !taken {
			return nx, ny, true
		}
	}
	return 0, 0, false
}

func (e *Engine) divide(p *Phenotype, parent, x, y int, rng *rand.Rand, noise distuv.LogNormal) {
	pc := &p.Cells[parent]
	pc.Energy -= e.cfg.DivideCost

	daughter := Cell{
		X:      x,
		Y:      y,
		Conc:   make([]float64, len(pc.Conc)),
		Alive:  true,
		Parent: parent,
	}
	switch e.cfg.Split {
	case SplitHalve:
		for k, v := range pc.Conc {
			daughter.Conc[k] = v / 2
			pc.Conc[k] = v / 2
		}
	case SplitDuplicate:
		copy(daughter.Conc, pc.Conc)
	}
	if e.cfg.ChemNoise > 0 {
		for k := range daughter.Conc {
			daughter.Conc[k] *= noise.Rand()
		}
	}
	// Remaining energy is shared evenly; division never mints energy.
	half := pc.Energy / 2
	pc.Energy = half
	daughter.Energy = half

	p.occupied[[2]int{x, y}] = len(p.Cells)
	p.Cells = append(p.Cells, daughter)
}
