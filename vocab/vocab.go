// Package vocab maintains the append-only condition vocabulary: the
// catalog of named, validated sensing expressions genotype rules refer
// to by id. Rules never embed expressions directly; they hold a
// ConditionID, so an invented condition is immediately reusable by
// every later mutation.
package vocab

import (
	"fmt"

	"github.com/crucible-sim/crucible/chem"
	"github.com/crucible-sim/crucible/fault"
)

// ConditionID identifies a vocabulary entry. Stable for the life of the
// process and across snapshots.
type ConditionID string

// Entry is one named condition. Immutable once registered.
type Entry struct {
	ID          ConditionID `json:"id" yaml:"id"`
	Description string      `json:"description" yaml:"description"`
	Expr        Expr        `json:"expr" yaml:"expr"`
}

// Vocabulary is the append-only catalog of conditions. Like the chem
// registry it is not safe for concurrent mutation; meta-innovation
// registers new entries only between generations.
type Vocabulary struct {
	maxConditions int
	entries       []Entry
	index         map[ConditionID]int
	version       int
}

// NewVocabulary creates an empty vocabulary bounded at maxConditions
// entries. A bound of zero means unbounded.
func NewVocabulary(maxConditions int) *Vocabulary {
	return &Vocabulary{
		maxConditions: maxConditions,
		index:         make(map[ConditionID]int),
	}
}

// Register validates the entry's expression against the registry
// snapshot and appends it. Recoverable failures: fault.ErrDuplicateID,
// fault.ErrCapacityExceeded, fault.ErrUnknownID (unresolvable base),
// fault.ErrInvalidRule (malformed tree).
func (v *Vocabulary) Register(e Entry, reg *chem.Snapshot) (ConditionID, error) {
	if e.ID == "" {
		return "", fmt.Errorf("vocab: %w: empty condition id", fault.ErrConfig)
	}
	if _, ok := v.index[e.ID]; ok {
		return "", fmt.Errorf("vocab: %w: condition %q", fault.ErrDuplicateID, e.ID)
	}
	if v.maxConditions > 0 && len(v.entries) >= v.maxConditions {
		return "", fmt.Errorf("vocab: %w: max_conditions=%d", fault.ErrCapacityExceeded, v.maxConditions)
	}
	if err := validate(e.Expr, reg, 0); err != nil {
		return "", err
	}
	v.index[e.ID] = len(v.entries)
	v.entries = append(v.entries, e)
	v.version++
	return e.ID, nil
}

// Lookup returns the entry registered under id.
func (v *Vocabulary) Lookup(id ConditionID) (Entry, error) {
	i, ok := v.index[id]
	if !ok {
		return Entry{}, fmt.Errorf("vocab: %w: condition %q", fault.ErrUnknownID, id)
	}
	return v.entries[i], nil
}

// Has reports whether id is registered.
func (v *Vocabulary) Has(id ConditionID) bool {
	_, ok := v.index[id]
	return ok
}

// List returns all entries in registration order.
func (v *Vocabulary) List() []Entry {
	out := make([]Entry, len(v.entries))
	copy(out, v.entries)
	return out
}

// IDs returns all condition ids in registration order.
func (v *Vocabulary) IDs() []ConditionID {
	out := make([]ConditionID, len(v.entries))
	for i, e := range v.entries {
		out[i] = e.ID
	}
	return out
}

// Len returns the number of registered conditions.
func (v *Vocabulary) Len() int { return len(v.entries) }

// Version increases by one with every registration.
func (v *Vocabulary) Version() int { return v.version }

// Evaluate interprets the condition registered under id against sensed
// state. Deterministic: identical snapshot, vocabulary contents, and
// sensed state always yield the same scalar.
func (v *Vocabulary) Evaluate(id ConditionID, reg *chem.Snapshot, s *Sensed) (float64, error) {
	i, ok := v.index[id]
	if !ok {
		return 0, fmt.Errorf("vocab: %w: condition %q", fault.ErrUnknownID, id)
	}
	return eval(v.entries[i].Expr, reg, s), nil
}

// Bootstrap seeds the vocabulary with the primitive senses every run
// starts from: own concentration of each registered base, plus age,
// energy, cell_count, and marker. Safe to call on a non-empty
// vocabulary; entries already present are kept.
func (v *Vocabulary) Bootstrap(reg *chem.Snapshot) error {
	for _, b := range reg.Bases() {
		e := Entry{
			ID:          ConditionID(fmt.Sprintf("sense_%s", b.ID)),
			Description: fmt.Sprintf("own concentration of %s", b.Name),
			Expr:        Expr{Op: OpSense, Channel: ChanConcentration, Base: b.ID},
		}
		if err := v.registerIfAbsent(e, reg); err != nil {
			return err
		}
	}
	scalars := []struct {
		id   ConditionID
		desc string
		ch   Channel
	}{
		{"sense_age", "cell age in development steps", ChanAge},
		{"sense_energy", "stored energy of the cell", ChanEnergy},
		{"sense_cell_count", "live cells in the body", ChanCellCount},
		{"sense_marker", "differentiation marker value", ChanMarker},
	}
	for _, sc := range scalars {
		e := Entry{ID: sc.id, Description: sc.desc, Expr: Expr{Op: OpSense, Channel: sc.ch}}
		if err := v.registerIfAbsent(e, reg); err != nil {
			return err
		}
	}
	return nil
}

func (v *Vocabulary) registerIfAbsent(e Entry, reg *chem.Snapshot) error {
	if _, ok := v.index[e.ID]; ok {
		return nil
	}
	_, err := v.Register(e, reg)
	return err
}
