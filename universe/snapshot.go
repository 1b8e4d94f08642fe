package universe

import (
	"fmt"
	"log/slog"

	"github.com/crucible-sim/crucible/chem"
	"github.com/crucible-sim/crucible/config"
	"github.com/crucible-sim/crucible/fault"
	"github.com/crucible-sim/crucible/meta"
	"github.com/crucible-sim/crucible/vocab"
	"github.com/crucible-sim/crucible/world"
)

// SnapshotVersion marks the snapshot document layout. Documents with a
// different version are rejected on import.
const SnapshotVersion = 1

// Snapshot is the complete serializable state of a universe: enough to
// resume a run losslessly, including the RNG stream position.
type Snapshot struct {
	Version int    `json:"version"`
	Seed    uint64 `json:"seed"`
	Epoch   int    `json:"epoch"`
	RNG     []byte `json:"rng_state"`

	Config     *config.Config      `json:"config"`
	Bases      []chem.ChemicalBase `json:"bases"`
	Conditions []vocab.Entry       `json:"conditions"`
	Meta       meta.State          `json:"meta"`
	World      *world.State        `json:"world"`
}

// ExportSnapshot captures the universe.
func (u *Universe) ExportSnapshot() (*Snapshot, error) {
	rngState, err := u.pcg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("universe: marshal rng: %w", err)
	}
	return &Snapshot{
		Version:    SnapshotVersion,
		Seed:       u.seed,
		Epoch:      u.epoch,
		RNG:        rngState,
		Config:     u.cfg,
		Bases:      u.reg.Snapshot().Bases(),
		Conditions: u.voc.List(),
		Meta:       u.meta.ExportState(),
		World:      u.world.ExportState(),
	}, nil
}

// FromSnapshot rebuilds a universe from a captured snapshot. Registries
// are replayed in their recorded order, then the world and the RNG
// stream are restored; the resumed run continues exactly where the
// exported one stopped.
func FromSnapshot(snap *Snapshot, log *slog.Logger) (*Universe, error) {
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("universe: %w: snapshot version %d, want %d",
			fault.ErrConfig, snap.Version, SnapshotVersion)
	}
	if snap.Config == nil || snap.World == nil {
		return nil, fmt.Errorf("universe: %w: incomplete snapshot", fault.ErrConfig)
	}

	u, err := assemble(snap.Config, snap.Seed, log, func(reg *chem.Registry, voc *vocab.Vocabulary) error {
		for _, def := range snap.Bases {
			if _, err := reg.Register(def); err != nil {
				return fmt.Errorf("universe: restore base %q: %w", def.ID, err)
			}
		}
		regSnap := reg.Snapshot()
		for _, e := range snap.Conditions {
			if _, err := voc.Register(e, regSnap); err != nil {
				return fmt.Errorf("universe: restore condition %q: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := u.pcg.UnmarshalBinary(snap.RNG); err != nil {
		u.world.Close()
		return nil, fmt.Errorf("universe: restore rng: %w", err)
	}
	if err := u.world.RestoreState(snap.World); err != nil {
		u.world.Close()
		return nil, err
	}
	u.meta.RestoreState(snap.Meta)
	u.epoch = snap.Epoch
	return u, nil
}
