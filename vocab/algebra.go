package vocab

import (
	"fmt"

	"github.com/crucible-sim/crucible/chem"
	"github.com/crucible-sim/crucible/fault"
)

// Op names a node type of the fixed condition algebra. Conditions are
// composition trees over these primitives, interpreted at evaluation
// time; no entry ever carries executable code.
type Op string

const (
	OpSense       Op = "sense"        // a local scalar channel
	OpGradient    Op = "gradient"     // field gradient magnitude of a base
	OpNeighbor    Op = "neighbor"     // aggregate over adjacent cells
	OpWeightedSum Op = "weighted_sum" // Σ weight_i · child_i
	OpScale       Op = "scale"        // factor · child
)

// Channel names a scalar a cell can sense about itself.
type Channel string

const (
	ChanConcentration Channel = "concentration" // own concentration of Base
	ChanAge           Channel = "age"
	ChanEnergy        Channel = "energy"
	ChanCellCount     Channel = "cell_count"
	ChanMarker        Channel = "marker"
)

// Aggregate names a neighbor-aggregate flavor.
type Aggregate string

const (
	AggMean  Aggregate = "mean"  // mean concentration of Base over live neighbors
	AggCount Aggregate = "count" // number of live neighbors
)

// maxDepth bounds composition trees so invented conditions stay cheap
// to evaluate and to serialize.
const maxDepth = 8

// Expr is one node of a condition's composition tree. Leaves are sense,
// gradient, and neighbor nodes; weighted_sum and scale combine children.
type Expr struct {
	Op      Op          `json:"op" yaml:"op"`
	Channel Channel     `json:"channel,omitempty" yaml:"channel,omitempty"`
	Base    chem.BaseID `json:"base,omitempty" yaml:"base,omitempty"`
	Agg     Aggregate   `json:"agg,omitempty" yaml:"agg,omitempty"`
	Factor  float64     `json:"factor,omitempty" yaml:"factor,omitempty"`
	Weights []float64   `json:"weights,omitempty" yaml:"weights,omitempty"`
	Args    []Expr      `json:"args,omitempty" yaml:"args,omitempty"`
}

// Sensed is the read-only local state a condition is evaluated against.
// Concentration vectors are indexed by registry-snapshot order.
type Sensed struct {
	Own           []float64 // own concentrations per base index
	NeighborMean  []float64 // mean neighbor concentrations per base index
	NeighborCount int       // live adjacent cells
	Gradient      []float64 // field gradient magnitude per base index; nil when not embedded
	Age           float64
	Energy        float64
	CellCount     float64 // live cells in the whole body
	Marker        float64 // differentiation marker
}

// validate checks that every base the tree references resolves against
// the registry snapshot and that the tree is structurally sound.
func validate(e Expr, reg *chem.Snapshot, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("vocab: %w: expression deeper than %d", fault.ErrInvalidRule, maxDepth)
	}
	switch e.Op {
	case OpSense:
		switch e.Channel {
		case ChanConcentration:
			if _, ok := reg.Index(e.Base); !ok {
				return fmt.Errorf("vocab: %w: sense of unregistered base %q", fault.ErrUnknownID, e.Base)
			}
		case ChanAge, ChanEnergy, ChanCellCount, ChanMarker:
		default:
			return fmt.Errorf("vocab: %w: unknown channel %q", fault.ErrInvalidRule, e.Channel)
		}
	case OpGradient:
		if _, ok := reg.Index(e.Base); !ok {
			return fmt.Errorf("vocab: %w: gradient of unregistered base %q", fault.ErrUnknownID, e.Base)
		}
	case OpNeighbor:
		if e.Agg != AggMean && e.Agg != AggCount {
			return fmt.Errorf("vocab: %w: unknown aggregate %q", fault.ErrInvalidRule, e.Agg)
		}
		if e.Agg == AggMean {
			if _, ok := reg.Index(e.Base); !ok {
				return fmt.Errorf("vocab: %w: neighbor aggregate of unregistered base %q", fault.ErrUnknownID, e.Base)
			}
		}
	case OpWeightedSum:
		if len(e.Args) == 0 {
			return fmt.Errorf("vocab: %w: weighted_sum with no args", fault.ErrInvalidRule)
		}
		for _, a := range e.Args {
			if err := validate(a, reg, depth+1); err != nil {
				return err
			}
		}
	case OpScale:
		if len(e.Args) != 1 {
			return fmt.Errorf("vocab: %w: scale takes exactly one arg", fault.ErrInvalidRule)
		}
		return validate(e.Args[0], reg, depth+1)
	default:
		return fmt.Errorf("vocab: %w: unknown op %q", fault.ErrInvalidRule, e.Op)
	}
	return nil
}

// eval interprets the tree against sensed state. Pure and deterministic:
// the same tree, registry snapshot, and sensed state always produce the
// same scalar.
func eval(e Expr, reg *chem.Snapshot, s *Sensed) float64 {
	switch e.Op {
	case OpSense:
		switch e.Channel {
		case ChanConcentration:
			if i, ok := reg.Index(e.Base); ok && i < len(s.Own) {
				return s.Own[i]
			}
			return 0
		case ChanAge:
			return s.Age
		case ChanEnergy:
			return s.Energy
		case ChanCellCount:
			return s.CellCount
		case ChanMarker:
			return s.Marker
		}
		return 0
	case OpGradient:
		if i, ok := reg.Index(e.Base); ok && i < len(s.Gradient) {
			return s.Gradient[i]
		}
		return 0
	case OpNeighbor:
		if e.Agg == AggCount {
			return float64(s.NeighborCount)
		}
		if i, ok := reg.Index(e.Base); ok && i < len(s.NeighborMean) {
			return s.NeighborMean[i]
		}
		return 0
	case OpWeightedSum:
		var sum float64
		for i, a := range e.Args {
			w := 1.0
			if i < len(e.Weights) {
				w = e.Weights[i]
			}
			sum += w * eval(a, reg, s)
		}
		return sum
	case OpScale:
		if len(e.Args) == 1 {
			return e.Factor * eval(e.Args[0], reg, s)
		}
		return 0
	}
	return 0
}
