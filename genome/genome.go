// Package genome defines the heritable program of an organism: a set of
// metabolic genes plus an ordered list of condition→action rules. A
// Genotype is immutable after creation; every evolutionary operator
// returns a fresh value under a fresh lineage id.
package genome

import (
	"fmt"
	"math/rand/v2"

	"github.com/crucible-sim/crucible/chem"
	"github.com/crucible-sim/crucible/fault"
	"github.com/crucible-sim/crucible/vocab"
)

// GeneID identifies a gene within one genotype.
type GeneID string

// Mode says which direction a gene moves chemistry.
type Mode string

const (
	ModeProduce Mode = "produce"
	ModeConsume Mode = "consume"
)

// Gene couples a chemical base to a transfer rate. Rules reference
// genes by id, so a rate mutation touches every rule using the gene.
type Gene struct {
	ID   GeneID      `json:"id" yaml:"id"`
	Base chem.BaseID `json:"base" yaml:"base"`
	Mode Mode        `json:"mode" yaml:"mode"`
	Rate float64     `json:"rate" yaml:"rate"` // units per activation, > 0
}

// Cmp is a rule's comparison direction.
type Cmp string

const (
	CmpLess    Cmp = "<"
	CmpGreater Cmp = ">"
)

// ActionOp names what a matched rule does.
type ActionOp string

const (
	OpProduce       ActionOp = "produce"
	OpConsume       ActionOp = "consume"
	OpDivide        ActionOp = "divide"
	OpDifferentiate ActionOp = "differentiate"
	OpApoptosis     ActionOp = "apoptosis"
	OpNoop          ActionOp = "noop"
)

// Action is the effect of a matched rule. Gene is set for
// produce/consume, the offsets for divide, Marker for differentiate.
type Action struct {
	Op      ActionOp `json:"op" yaml:"op"`
	Gene    GeneID   `json:"gene,omitempty" yaml:"gene,omitempty"`
	OffsetX int      `json:"offset_x,omitempty" yaml:"offset_x,omitempty"`
	OffsetY int      `json:"offset_y,omitempty" yaml:"offset_y,omitempty"`
	Marker  float64  `json:"marker,omitempty" yaml:"marker,omitempty"`
}

// Rule fires when its condition's value compares true against the
// threshold and the action is feasible for the evaluating cell.
type Rule struct {
	Condition vocab.ConditionID `json:"condition" yaml:"condition"`
	Cmp       Cmp               `json:"cmp" yaml:"cmp"`
	Threshold float64           `json:"threshold" yaml:"threshold"`
	Action    Action            `json:"action" yaml:"action"`
}

// Matches reports whether value satisfies the rule's comparison.
func (r Rule) Matches(value float64) bool {
	if r.Cmp == CmpLess {
		return value < r.Threshold
	}
	return value > r.Threshold
}

// Genotype is one heritable program. Rule order is significant: during
// development the first matching rule wins. Treat as immutable;
// operators copy before changing anything.
type Genotype struct {
	ID         string   `json:"id" yaml:"id"`
	ParentIDs  []string `json:"parent_ids,omitempty" yaml:"parent_ids,omitempty"`
	Generation int      `json:"generation" yaml:"generation"`
	Rules      []Rule   `json:"rules" yaml:"rules"`
	Genes      []Gene   `json:"genes" yaml:"genes"`
}

// NewID draws a fresh lineage id from the rng.
func NewID(rng *rand.Rand) string {
	return fmt.Sprintf("G-%07d", rng.IntN(10_000_000))
}

// Gene returns the gene registered under id.
func (g *Genotype) Gene(id GeneID) (Gene, bool) {
	for _, gn := range g.Genes {
		if gn.ID == id {
			return gn, true
		}
	}
	return Gene{}, false
}

// Copy returns a deep copy under the given id with parents recorded.
// Generation is the max parent generation plus one.
func (g *Genotype) Copy(id string, parents ...*Genotype) *Genotype {
	out := &Genotype{
		ID:    id,
		Rules: make([]Rule, len(g.Rules)),
		Genes: make([]Gene, len(g.Genes)),
	}
	copy(out.Rules, g.Rules)
	copy(out.Genes, g.Genes)
	for _, p := range parents {
		out.ParentIDs = append(out.ParentIDs, p.ID)
		if p.Generation >= out.Generation {
			out.Generation = p.Generation + 1
		}
	}
	return out
}

// Validate resolves every id the genotype references against the
// registry snapshot and vocabulary. All failures wrap
// fault.ErrInvalidRule; a genotype that validates here never faults on
// an unresolvable reference during development.
func (g *Genotype) Validate(reg *chem.Snapshot, voc *vocab.Vocabulary) error {
	if g.ID == "" {
		return fmt.Errorf("genome: %w: empty genotype id", fault.ErrInvalidRule)
	}
	seen := make(map[GeneID]bool, len(g.Genes))
	for _, gn := range g.Genes {
		if gn.ID == "" {
			return fmt.Errorf("genome %s: %w: empty gene id", g.ID, fault.ErrInvalidRule)
		}
		if seen[gn.ID] {
			return fmt.Errorf("genome %s: %w: duplicate gene %q", g.ID, fault.ErrInvalidRule, gn.ID)
		}
		seen[gn.ID] = true
		if gn.Mode != ModeProduce && gn.Mode != ModeConsume {
			return fmt.Errorf("genome %s: %w: gene %q mode %q", g.ID, fault.ErrInvalidRule, gn.ID, gn.Mode)
		}
		if gn.Rate <= 0 {
			return fmt.Errorf("genome %s: %w: gene %q rate %v", g.ID, fault.ErrInvalidRule, gn.ID, gn.Rate)
		}
		if _, ok := reg.Index(gn.Base); !ok {
			return fmt.Errorf("genome %s: %w: gene %q base %q unregistered", g.ID, fault.ErrInvalidRule, gn.ID, gn.Base)
		}
	}
	for i, r := range g.Rules {
		if !voc.Has(r.Condition) {
			return fmt.Errorf("genome %s: %w: rule %d condition %q unregistered", g.ID, fault.ErrInvalidRule, i, r.Condition)
		}
		if r.Cmp != CmpLess && r.Cmp != CmpGreater {
			return fmt.Errorf("genome %s: %w: rule %d cmp %q", g.ID, fault.ErrInvalidRule, i, r.Cmp)
		}
		if err := validateAction(r.Action, seen); err != nil {
			return fmt.Errorf("genome %s: rule %d: %w", g.ID, i, err)
		}
	}
	return nil
}

func validateAction(a Action, genes map[GeneID]bool) error {
	switch a.Op {
	case OpProduce, OpConsume:
		if !genes[a.Gene] {
			return fmt.Errorf("%w: action references gene %q", fault.ErrInvalidRule, a.Gene)
		}
	case OpDivide:
		if a.OffsetX < -1 || a.OffsetX > 1 || a.OffsetY < -1 || a.OffsetY > 1 ||
			(a.OffsetX == 0 && a.OffsetY == 0) {
			return fmt.Errorf("%w: divide offset (%d,%d) outside unit neighborhood", fault.ErrInvalidRule, a.OffsetX, a.OffsetY)
		}
	case OpDifferentiate, OpApoptosis, OpNoop:
	default:
		return fmt.Errorf("%w: unknown action %q", fault.ErrInvalidRule, a.Op)
	}
	return nil
}

// RandomConfig bounds random genotype generation.
type RandomConfig struct {
	MinGenes  int     `yaml:"min_genes"`
	MaxGenes  int     `yaml:"max_genes"`
	MinRules  int     `yaml:"min_rules"`
	MaxRules  int     `yaml:"max_rules"`
	RateScale float64 `yaml:"rate_scale"` // upper bound for gene rates
	MaxThresh float64 `yaml:"max_threshold"`
}

// offsets8 is the clockwise unit neighborhood starting north.
var offsets8 = [8][2]int{
	{0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1},
}

// NewRandom samples a genotype over the registered bases and current
// vocabulary. The result always validates against the same snapshot
// and vocabulary it was sampled from.
func NewRandom(rng *rand.Rand, reg *chem.Snapshot, voc *vocab.Vocabulary, cfg RandomConfig) *Genotype {
	g := &Genotype{ID: NewID(rng)}

	nGenes := cfg.MinGenes + rng.IntN(cfg.MaxGenes-cfg.MinGenes+1)
	for i := 0; i < nGenes; i++ {
		mode := ModeConsume
		if rng.Float64() < 0.5 {
			mode = ModeProduce
		}
		g.Genes = append(g.Genes, Gene{
			ID:   GeneID(fmt.Sprintf("g%d", i)),
			Base: reg.At(rng.IntN(reg.Len())).ID,
			Mode: mode,
			Rate: rng.Float64()*cfg.RateScale + 1e-3,
		})
	}

	conds := voc.IDs()
	nRules := cfg.MinRules + rng.IntN(cfg.MaxRules-cfg.MinRules+1)
	for i := 0; i < nRules; i++ {
		g.Rules = append(g.Rules, Rule{
			Condition: conds[rng.IntN(len(conds))],
			Cmp:       randomCmp(rng),
			Threshold: rng.Float64() * cfg.MaxThresh,
			Action:    RandomAction(rng, g.Genes),
		})
	}
	return g
}

func randomCmp(rng *rand.Rand) Cmp {
	if rng.Float64() < 0.5 {
		return CmpLess
	}
	return CmpGreater
}

// RandomAction samples an action over the given gene set. Used both by
// NewRandom and by the add-rule mutation operator.
func RandomAction(rng *rand.Rand, genes []Gene) Action {
	ops := []ActionOp{OpDivide, OpDifferentiate, OpNoop}
	if len(genes) > 0 {
		ops = append(ops, OpProduce, OpConsume)
	}
	// Apoptosis is sampled rarely; a hair-trigger death rule voids the
	// whole genotype.
	if rng.Float64() < 0.05 {
		return Action{Op: OpApoptosis}
	}
	switch op := ops[rng.IntN(len(ops))]; op {
	case OpProduce, OpConsume:
		return Action{Op: op, Gene: genes[rng.IntN(len(genes))].ID}
	case OpDivide:
		off := offsets8[rng.IntN(len(offsets8))]
		return Action{Op: OpDivide, OffsetX: off[0], OffsetY: off[1]}
	case OpDifferentiate:
		return Action{Op: OpDifferentiate, Marker: rng.Float64()}
	default:
		return Action{Op: OpNoop}
	}
}
