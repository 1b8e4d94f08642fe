// Package chem provides the append-only registry of chemical bases:
// the substrate types organisms harvest, secrete, and diffuse through
// the world's fields.
package chem

import (
	"fmt"

	"github.com/crucible-sim/crucible/fault"
)

// BaseID identifies a chemical base. Stable for the life of the process
// and across snapshots; bases are never removed or edited in place.
type BaseID string

// ChemicalBase describes one substrate type. Immutable once registered.
type ChemicalBase struct {
	ID            BaseID  `json:"id" yaml:"id"`
	Name          string  `json:"name" yaml:"name"`
	EnergyYield   float64 `json:"energy_yield" yaml:"energy_yield"`     // energy per unit consumed
	DiffusionRate float64 `json:"diffusion_rate" yaml:"diffusion_rate"` // per second toward neighborhood mean
	DecayRate     float64 `json:"decay_rate" yaml:"decay_rate"`         // fraction lost per second
	Toxicity      float64 `json:"toxicity" yaml:"toxicity"`             // energy damage per unit absorbed
	Color         string  `json:"color" yaml:"color"`                   // display metadata for external dashboards
}

// Registry is the append-only catalog of chemical bases. Registration
// order is the stable field-layout index used by world grids and sensed
// concentration vectors. Not safe for concurrent mutation; all writes
// happen in the sequential phases of a tick or generation.
type Registry struct {
	maxBases int
	bases    []ChemicalBase
	index    map[BaseID]int
	version  int
}

// NewRegistry creates an empty registry bounded at maxBases entries.
func NewRegistry(maxBases int) *Registry {
	return &Registry{
		maxBases: maxBases,
		index:    make(map[BaseID]int),
	}
}

// Register appends a base and returns its stable id.
// Fails with fault.ErrDuplicateID if the id exists and with
// fault.ErrCapacityExceeded when the registry is full; both are
// recoverable, the caller simply drops the candidate.
func (r *Registry) Register(def ChemicalBase) (BaseID, error) {
	if def.ID == "" {
		return "", fmt.Errorf("chem: %w: empty base id", fault.ErrConfig)
	}
	if _, ok := r.index[def.ID]; ok {
		return "", fmt.Errorf("chem: %w: base %q", fault.ErrDuplicateID, def.ID)
	}
	if r.maxBases > 0 && len(r.bases) >= r.maxBases {
		return "", fmt.Errorf("chem: %w: max_bases=%d", fault.ErrCapacityExceeded, r.maxBases)
	}
	r.index[def.ID] = len(r.bases)
	r.bases = append(r.bases, def)
	r.version++
	return def.ID, nil
}

// Lookup returns the base registered under id.
func (r *Registry) Lookup(id BaseID) (ChemicalBase, error) {
	i, ok := r.index[id]
	if !ok {
		return ChemicalBase{}, fmt.Errorf("chem: %w: base %q", fault.ErrUnknownID, id)
	}
	return r.bases[i], nil
}

// List returns all bases in registration order.
func (r *Registry) List() []ChemicalBase {
	out := make([]ChemicalBase, len(r.bases))
	copy(out, r.bases)
	return out
}

// Len returns the number of registered bases.
func (r *Registry) Len() int { return len(r.bases) }

// Version increases by one with every registration.
func (r *Registry) Version() int { return r.version }

// Snapshot returns an immutable view of the registry as of now.
// Engines consume snapshots per tick or per operation instead of
// reading the live registry, so a mid-generation registration never
// shifts field layouts under a running computation.
func (r *Registry) Snapshot() *Snapshot {
	bases := make([]ChemicalBase, len(r.bases))
	copy(bases, r.bases)
	index := make(map[BaseID]int, len(r.index))
	for id, i := range r.index {
		index[id] = i
	}
	return &Snapshot{version: r.version, bases: bases, index: index}
}

// Snapshot is a frozen, versioned view of a Registry.
type Snapshot struct {
	version int
	bases   []ChemicalBase
	index   map[BaseID]int
}

// Version reports the registry version this snapshot was taken at.
func (s *Snapshot) Version() int { return s.version }

// Len returns the number of bases in the snapshot.
func (s *Snapshot) Len() int { return len(s.bases) }

// At returns the base at field-layout index i.
func (s *Snapshot) At(i int) ChemicalBase { return s.bases[i] }

// Index returns the field-layout index of id.
func (s *Snapshot) Index(id BaseID) (int, bool) {
	i, ok := s.index[id]
	return i, ok
}

// Lookup returns the base registered under id.
func (s *Snapshot) Lookup(id BaseID) (ChemicalBase, error) {
	i, ok := s.index[id]
	if !ok {
		return ChemicalBase{}, fmt.Errorf("chem: %w: base %q", fault.ErrUnknownID, id)
	}
	return s.bases[i], nil
}

// Bases returns the snapshot's bases in registration order.
func (s *Snapshot) Bases() []ChemicalBase {
	out := make([]ChemicalBase, len(s.bases))
	copy(out, s.bases)
	return out
}
