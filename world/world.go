// Package world hosts the grid environment: per-chemical fields with
// diffusion and decay, and the organism population living on top of
// them. Organisms are ECS entities; their genotypes and phenotypes
// live in id-keyed maps beside the ECS store.
package world

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/mlange-42/ark/ecs"

	"github.com/crucible-sim/crucible/chem"
	"github.com/crucible-sim/crucible/develop"
	"github.com/crucible-sim/crucible/fault"
	"github.com/crucible-sim/crucible/genome"
	"github.com/crucible-sim/crucible/vocab"
)

// Config bounds the environment and its energetics.
type Config struct {
	Width          int         `yaml:"width"`
	Height         int         `yaml:"height"`
	TickLength     float64     `yaml:"tick_length"`            // simulated seconds per tick
	ReproThreshold float64     `yaml:"reproduction_threshold"` // energy that triggers reproduction
	ReproCost      float64     `yaml:"reproduction_cost"`      // energy transferred to the child
	MetabolicCost  float64     `yaml:"metabolic_cost"`         // energy per live cell per second
	SecretionCost  float64     `yaml:"secretion_cost"`         // energy per chemical unit secreted
	Lifespan       int         `yaml:"lifespan"`               // ticks; 0 means unlimited
	InitialAmount  float64     `yaml:"initial_chemical"`       // field concentration at a noise peak
	Noise          NoiseConfig `yaml:"noise"`
}

// Validate reports the first configuration fault.
func (c Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("world: %w: grid %dx%d", fault.ErrConfig, c.Width, c.Height)
	case c.TickLength <= 0:
		return fmt.Errorf("world: %w: tick_length %v", fault.ErrConfig, c.TickLength)
	case c.ReproCost < 0 || c.MetabolicCost < 0 || c.SecretionCost < 0:
		return fmt.Errorf("world: %w: negative cost", fault.ErrConfig)
	case c.ReproThreshold < c.ReproCost:
		return fmt.Errorf("world: %w: reproduction_threshold %v below reproduction_cost %v",
			fault.ErrConfig, c.ReproThreshold, c.ReproCost)
	case c.Lifespan < 0:
		return fmt.Errorf("world: %w: lifespan %d", fault.ErrConfig, c.Lifespan)
	}
	return nil
}

// Mutator breeds the genotype an offspring inherits. The evolution
// layer provides the implementation; the world only asks for one
// child genotype per triggering parent.
type Mutator interface {
	Offspring(parent *genome.Genotype) (*genome.Genotype, error)
}

// Record is the lifetime summary of one organism, kept for fitness
// evaluation after the organism is gone.
type Record struct {
	ID         uint64
	Genotype   string
	Harvested  float64
	TicksAlive int
	Offspring  int
	Alive      bool
}

// TickReport summarizes one completed tick.
type TickReport struct {
	Tick      int
	Organisms int
	Births    int
	Deaths    int
	Energy    float64 // total stored energy of living organisms
	Heat      float64 // cumulative energy lost to heat
	Injected  float64 // cumulative energy created from chemical uptake
}

// World is the grid environment plus its population.
type World struct {
	cfg Config
	log *slog.Logger

	reg *chem.Registry
	voc *vocab.Vocabulary
	dev *develop.Engine
	mut Mutator

	ecs    *ecs.World
	mapper *ecs.Map3[Position, Vitals, Meta]
	filter *ecs.Filter3[Position, Vitals, Meta]

	field      *Field
	genotypes  map[string]*genome.Genotype
	phenotypes map[uint64]*develop.Phenotype
	entities   map[uint64]ecs.Entity
	occupied   map[[2]int]uint64

	graveyard []Record
	parallel  *uptakeState

	seed     uint64
	nextID   uint64
	tick     int
	heat     float64
	injected float64
	chemLost float64
}

// New builds an empty world over the given registries.
func New(cfg Config, reg *chem.Registry, voc *vocab.Vocabulary, dev *develop.Engine, mut Mutator, seed uint64, log *slog.Logger) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	ew := ecs.NewWorld()
	w := &World{
		cfg:        cfg,
		log:        log,
		reg:        reg,
		voc:        voc,
		dev:        dev,
		mut:        mut,
		ecs:        ew,
		mapper:     ecs.NewMap3[Position, Vitals, Meta](ew),
		filter:     ecs.NewFilter3[Position, Vitals, Meta](ew),
		field:      NewField(cfg.Width, cfg.Height, reg.Snapshot(), seed, cfg.Noise, cfg.InitialAmount),
		genotypes:  make(map[string]*genome.Genotype),
		phenotypes: make(map[uint64]*develop.Phenotype),
		entities:   make(map[uint64]ecs.Entity),
		occupied:   make(map[[2]int]uint64),
		parallel:   newUptakeState(),
		seed:       seed,
		nextID:     1,
	}
	return w, nil
}

// Field exposes the chemical grids.
func (w *World) Field() *Field { return w.field }

// Tick returns the number of completed ticks.
func (w *World) Tick() int { return w.tick }

// Heat returns cumulative energy lost to heat.
func (w *World) Heat() float64 { return w.heat }

// Injected returns cumulative energy created from chemical uptake and
// outside seeding.
func (w *World) Injected() float64 { return w.injected }

// ChemLost returns cumulative chemical mass lost to decay.
func (w *World) ChemLost() float64 { return w.chemLost }

// Genotype returns the genotype registered under a lineage id.
func (w *World) Genotype(id string) (*genome.Genotype, bool) {
	gt, ok := w.genotypes[id]
	return gt, ok
}

// Phenotype returns the developed body of a living organism.
func (w *World) Phenotype(id uint64) (*develop.Phenotype, bool) {
	p, ok := w.phenotypes[id]
	return p, ok
}

// Organisms returns the number of living organisms.
func (w *World) Organisms() int { return len(w.entities) }

// TotalEnergy sums stored energy over living organisms.
func (w *World) TotalEnergy() float64 {
	var sum float64
	query := w.filter.Query()
	for query.Next() {
		_, vit, _ := query.Get()
		if vit.Alive {
			sum += vit.Energy
		}
	}
	return sum
}

// Energies returns the stored energy of every living organism, in
// ascending organism id.
func (w *World) Energies() []float64 {
	type row struct {
		id     uint64
		energy float64
	}
	var rows []row
	query := w.filter.Query()
	for query.Next() {
		_, vit, meta := query.Get()
		if vit.Alive {
			rows = append(rows, row{id: meta.ID, energy: vit.Energy})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.energy
	}
	return out
}

// Records returns lifetime summaries for every organism of the current
// generation, dead and alive, in no particular order.
func (w *World) Records() []Record {
	out := make([]Record, 0, len(w.graveyard)+len(w.entities))
	out = append(out, w.graveyard...)
	query := w.filter.Query()
	for query.Next() {
		_, vit, meta := query.Get()
		out = append(out, Record{
			ID:         meta.ID,
			Genotype:   meta.Genotype,
			Harvested:  vit.Harvested,
			TicksAlive: vit.Age,
			Offspring:  meta.Offspring,
			Alive:      vit.Alive,
		})
	}
	return out
}

// Spawn develops gt and places the organism at (x, y) with the given
// starting energy, seeded from outside the world's energy books.
// Development faults that still yield a body (non-convergence, cell
// cap) are tolerated and logged.
func (w *World) Spawn(gt *genome.Genotype, x, y int, energy float64, seed uint64) (uint64, error) {
	id, err := w.place(gt, x, y, energy, seed)
	if err != nil {
		return 0, err
	}
	w.injected += energy
	return id, nil
}

func (w *World) place(gt *genome.Genotype, x, y int, energy float64, seed uint64) (uint64, error) {
	x, y = modInt(x, w.cfg.Width), modInt(y, w.cfg.Height)
	if _, taken := w.occupied[[2]int{x, y}]; taken {
		return 0, fmt.Errorf("world: %w: cell (%d,%d) occupied", fault.ErrCapacityExceeded, x, y)
	}

	// Lineage ids come from a bounded random draw; on a collision the
	// newcomer is re-keyed instead of overwriting the registered program.
	if existing, ok := w.genotypes[gt.ID]; ok && existing != gt {
		base := gt.ID
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s.%d", base, n)
			if _, taken := w.genotypes[candidate]; !taken {
				gt.ID = candidate
				break
			}
		}
	}

	snap := w.reg.Snapshot()
	w.field.Sync(snap)

	p, err := w.dev.Grow(gt, snap, w.voc, seed, &fieldSampler{f: w.field, x: x, y: y})
	if err != nil && p == nil {
		return 0, err
	}
	if err != nil {
		w.log.Debug("development fault tolerated", "genotype", gt.ID, "err", err)
	}

	id := w.nextID
	w.nextID++

	if p.LiveCount() == 0 {
		// Born dead: the body never takes a grid cell.
		w.heat += energy
		w.graveyard = append(w.graveyard, Record{ID: id, Genotype: gt.ID})
		return id, nil
	}

	pos := Position{X: x, Y: y}
	vit := Vitals{Energy: energy, Alive: true}
	meta := Meta{ID: id, Genotype: gt.ID, BornTick: w.tick}
	entity := w.mapper.NewEntity(&pos, &vit, &meta)

	w.entities[id] = entity
	w.occupied[[2]int{x, y}] = id
	w.phenotypes[id] = p
	w.genotypes[gt.ID] = gt
	return id, nil
}

// Step advances the world one tick: diffusion, decay, organism
// metabolism, reproduction, death. Ordering is fixed; repeated runs
// from the same state are identical.
func (w *World) Step() TickReport {
	dt := w.cfg.TickLength
	snap := w.reg.Snapshot()
	w.field.Sync(snap)

	w.field.Diffuse(dt)
	w.chemLost += w.field.Decay(dt)

	w.metabolize(snap, dt)
	births := w.reproduce()
	deaths := w.reap(snap)

	w.tick++
	return TickReport{
		Tick:      w.tick,
		Organisms: len(w.entities),
		Births:    births,
		Deaths:    deaths,
		Energy:    w.TotalEnergy(),
		Heat:      w.heat,
		Injected:  w.injected,
	}
}

// reproduce spawns one child per organism whose energy crossed the
// threshold this tick. Candidates are processed in ascending id so the
// mutator's RNG draws and placement contention are schedule-free.
func (w *World) reproduce() int {
	type parent struct {
		id     uint64
		entity ecs.Entity
	}
	var parents []parent

	query := w.filter.Query()
	for query.Next() {
		_, vit, meta := query.Get()
		if vit.Alive && vit.Energy > w.cfg.ReproThreshold {
			parents = append(parents, parent{id: meta.ID, entity: query.Entity()})
		}
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i].id < parents[j].id })

	births := 0
	for _, par := range parents {
		pos, vit, meta := w.mapper.Get(par.entity)
		gt := w.genotypes[meta.Genotype]

		child, err := w.mut.Offspring(gt)
		if err != nil {
			w.log.Warn("offspring breeding failed", "parent", meta.Genotype, "err", err)
			continue
		}

		// The parent pays exactly the reproduction cost; the child
		// starts with it. Heat is not produced here.
		vit.Energy -= w.cfg.ReproCost

		x, y, ok := w.freeSpotAround(pos.X, pos.Y)
		if !ok {
			// Crowded out: the child is conceived but never placed.
			w.heat += w.cfg.ReproCost
			w.graveyard = append(w.graveyard, Record{ID: w.nextID, Genotype: child.ID})
			w.nextID++
			continue
		}

		childID := w.nextID // place() assigns this id
		if _, err := w.place(child, x, y, w.cfg.ReproCost, childSeed(w.seed, childID)); err != nil {
			w.heat += w.cfg.ReproCost
			w.log.Warn("child placement failed", "genotype", child.ID, "err", err)
			continue
		}
		// place() may relocate component storage; re-resolve the
		// parent's pointers before touching them again.
		_, _, meta = w.mapper.Get(par.entity)
		meta.Offspring++
		births++
	}
	return births
}

// reap removes organisms that ran out of energy or exceeded the
// lifespan. Carcasses deposit their cell chemistry back into the
// field; remaining energy leaves as heat.
func (w *World) reap(snap *chem.Snapshot) int {
	type dead struct {
		id     uint64
		entity ecs.Entity
	}
	var toRemove []dead

	query := w.filter.Query()
	for query.Next() {
		_, vit, meta := query.Get()
		expired := w.cfg.Lifespan > 0 && vit.Age >= w.cfg.Lifespan
		if !vit.Alive || vit.Energy <= 0 || expired {
			toRemove = append(toRemove, dead{id: meta.ID, entity: query.Entity()})
		}
	}
	sort.Slice(toRemove, func(i, j int) bool { return toRemove[i].id < toRemove[j].id })

	for _, d := range toRemove {
		pos, vit, meta := w.mapper.Get(d.entity)

		if vit.Energy > 0 {
			w.heat += vit.Energy
		}
		if p := w.phenotypes[d.id]; p != nil {
			for i := range p.Cells {
				for b, amount := range p.Cells[i].Conc {
					if b < snap.Len() && amount > 0 {
						w.field.Add(b, pos.X, pos.Y, amount)
					}
				}
			}
		}
		w.graveyard = append(w.graveyard, Record{
			ID:         d.id,
			Genotype:   meta.Genotype,
			Harvested:  vit.Harvested,
			TicksAlive: vit.Age,
			Offspring:  meta.Offspring,
		})

		delete(w.occupied, [2]int{pos.X, pos.Y})
		delete(w.phenotypes, d.id)
		delete(w.entities, d.id)
		w.mapper.Remove(d.entity)
	}
	return len(toRemove)
}

// Clear removes the whole population, sending remaining stored energy
// to heat, and wipes the generation's records. The field keeps its
// state across generations.
func (w *World) Clear() {
	type live struct {
		id     uint64
		entity ecs.Entity
	}
	var all []live
	query := w.filter.Query()
	for query.Next() {
		_, _, meta := query.Get()
		all = append(all, live{id: meta.ID, entity: query.Entity()})
	}
	for _, l := range all {
		pos, vit, _ := w.mapper.Get(l.entity)
		if vit.Energy > 0 {
			w.heat += vit.Energy
		}
		delete(w.occupied, [2]int{pos.X, pos.Y})
		delete(w.phenotypes, l.id)
		delete(w.entities, l.id)
		w.mapper.Remove(l.entity)
	}
	w.graveyard = w.graveyard[:0]
}

// ring is the clockwise unit neighborhood starting north; placement
// probes it at radius 1, then radius 2.
var ring = [8][2]int{
	{0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1},
}

func (w *World) freeSpotAround(x, y int) (int, int, bool) {
	for radius := 1; radius <= 2; radius++ {
		for _, off := range ring {
			nx := modInt(x+off[0]*radius, w.cfg.Width)
			ny := modInt(y+off[1]*radius, w.cfg.Height)
			if _, taken := w.occupied[[2]int{nx, ny}]; !taken {
				return nx, ny, true
			}
		}
	}
	return 0, 0, false
}

// fieldSampler exposes local gradients to a developing organism.
type fieldSampler struct {
	f    *Field
	x, y int
}

func (s *fieldSampler) Gradients() []float64 {
	return s.f.Gradients(s.x, s.y, nil)
}

// childSeed derives a per-organism development seed that depends only
// on the world seed and the organism id, never on tick scheduling.
func childSeed(worldSeed, id uint64) uint64 {
	z := worldSeed ^ (id * 0x9e3779b97f4a7c15)
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
