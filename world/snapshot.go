package world

import (
	"fmt"
	"sort"

	"github.com/crucible-sim/crucible/develop"
	"github.com/crucible-sim/crucible/fault"
	"github.com/crucible-sim/crucible/genome"
)

// OrganismState is one organism's full serializable state.
type OrganismState struct {
	ID        uint64             `json:"id"`
	Genotype  string             `json:"genotype"`
	X         int                `json:"x"`
	Y         int                `json:"y"`
	Energy    float64            `json:"energy"`
	Age       int                `json:"age"`
	Harvested float64            `json:"harvested"`
	Spent     float64            `json:"spent"`
	Offspring int                `json:"offspring"`
	BornTick  int                `json:"born_tick"`
	Phenotype *develop.Phenotype `json:"phenotype"`
}

// RecordState mirrors Record for serialization.
type RecordState struct {
	ID         uint64  `json:"id"`
	Genotype   string  `json:"genotype"`
	Harvested  float64 `json:"harvested"`
	TicksAlive int     `json:"ticks_alive"`
	Offspring  int     `json:"offspring"`
}

// State is the world's complete serializable state: books, field data,
// genotypes, and every living organism. Field grids are keyed by
// registry-snapshot order.
type State struct {
	Tick      int     `json:"tick"`
	NextID    uint64  `json:"next_id"`
	Heat      float64 `json:"heat"`
	Injected  float64 `json:"injected"`
	ChemLost  float64 `json:"chem_lost"`
	WorldSeed uint64  `json:"world_seed"`

	Field     [][]float64        `json:"field"`
	Genotypes []*genome.Genotype `json:"genotypes"`
	Organisms []OrganismState    `json:"organisms"`
	Graveyard []RecordState      `json:"graveyard"`
}

// ExportState captures the world for persistence. Organisms and
// genotypes are emitted in deterministic order.
func (w *World) ExportState() *State {
	w.field.Sync(w.reg.Snapshot())

	st := &State{
		Tick:      w.tick,
		NextID:    w.nextID,
		Heat:      w.heat,
		Injected:  w.injected,
		ChemLost:  w.chemLost,
		WorldSeed: w.seed,
	}

	for b := 0; b < w.field.Bases(); b++ {
		grid := make([]float64, len(w.field.Data(b)))
		copy(grid, w.field.Data(b))
		st.Field = append(st.Field, grid)
	}

	ids := make([]string, 0, len(w.genotypes))
	for id := range w.genotypes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		st.Genotypes = append(st.Genotypes, w.genotypes[id])
	}

	query := w.filter.Query()
	for query.Next() {
		pos, vit, meta := query.Get()
		if !vit.Alive {
			continue
		}
		st.Organisms = append(st.Organisms, OrganismState{
			ID:        meta.ID,
			Genotype:  meta.Genotype,
			X:         pos.X,
			Y:         pos.Y,
			Energy:    vit.Energy,
			Age:       vit.Age,
			Harvested: vit.Harvested,
			Spent:     vit.Spent,
			Offspring: meta.Offspring,
			BornTick:  meta.BornTick,
			Phenotype: w.phenotypes[meta.ID],
		})
	}
	sort.Slice(st.Organisms, func(i, j int) bool { return st.Organisms[i].ID < st.Organisms[j].ID })

	for _, r := range w.graveyard {
		st.Graveyard = append(st.Graveyard, RecordState{
			ID:         r.ID,
			Genotype:   r.Genotype,
			Harvested:  r.Harvested,
			TicksAlive: r.TicksAlive,
			Offspring:  r.Offspring,
		})
	}
	return st
}

// RestoreState rebuilds the world from a captured state. The world must
// be freshly constructed with the same registries the state was
// exported under; an existing population is a fault.
func (w *World) RestoreState(st *State) error {
	if len(w.entities) > 0 {
		return fmt.Errorf("world: %w: restore into a populated world", fault.ErrConfig)
	}
	snap := w.reg.Snapshot()
	w.field.Sync(snap)
	if len(st.Field) > w.field.Bases() {
		return fmt.Errorf("world: %w: state has %d field grids, registry has %d bases",
			fault.ErrConfig, len(st.Field), w.field.Bases())
	}

	w.tick = st.Tick
	w.nextID = st.NextID
	w.heat = st.Heat
	w.injected = st.Injected
	w.chemLost = st.ChemLost
	w.seed = st.WorldSeed

	for b, grid := range st.Field {
		if len(grid) != w.cfg.Width*w.cfg.Height {
			return fmt.Errorf("world: %w: grid %d has %d cells, want %d",
				fault.ErrConfig, b, len(grid), w.cfg.Width*w.cfg.Height)
		}
		w.field.SetData(b, grid)
	}

	for _, gt := range st.Genotypes {
		if err := gt.Validate(snap, w.voc); err != nil {
			return fmt.Errorf("world: restore genotype %s: %w", gt.ID, err)
		}
		w.genotypes[gt.ID] = gt
	}

	for _, o := range st.Organisms {
		if _, ok := w.genotypes[o.Genotype]; !ok {
			return fmt.Errorf("world: %w: organism %d references unknown genotype %q",
				fault.ErrUnknownID, o.ID, o.Genotype)
		}
		key := [2]int{o.X, o.Y}
		if _, taken := w.occupied[key]; taken {
			return fmt.Errorf("world: %w: organisms collide at (%d,%d)", fault.ErrConfig, o.X, o.Y)
		}
		if o.Phenotype == nil {
			return fmt.Errorf("world: %w: organism %d has no phenotype", fault.ErrConfig, o.ID)
		}
		o.Phenotype.Reindex()

		pos := Position{X: o.X, Y: o.Y}
		vit := Vitals{Energy: o.Energy, Age: o.Age, Alive: true, Harvested: o.Harvested, Spent: o.Spent}
		meta := Meta{ID: o.ID, Genotype: o.Genotype, BornTick: o.BornTick, Offspring: o.Offspring}
		entity := w.mapper.NewEntity(&pos, &vit, &meta)

		w.entities[o.ID] = entity
		w.occupied[key] = o.ID
		w.phenotypes[o.ID] = o.Phenotype
	}

	w.graveyard = w.graveyard[:0]
	for _, r := range st.Graveyard {
		w.graveyard = append(w.graveyard, Record{
			ID:         r.ID,
			Genotype:   r.Genotype,
			Harvested:  r.Harvested,
			TicksAlive: r.TicksAlive,
			Offspring:  r.Offspring,
		})
	}
	return nil
}
