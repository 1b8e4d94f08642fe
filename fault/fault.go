// Package fault defines the sentinel errors shared across the engine.
//
// Registry misuse (ErrDuplicateID, ErrUnknownID) and capacity hits
// (ErrCapacityExceeded) are recoverable: callers skip the candidate and
// continue. ErrInvalidRule rejects a genotype at construction time.
// ErrNonConvergent is informational: the phenotype it accompanies is
// usable as-is. Only ErrConfig is fatal.
package fault

import "errors"

var (
	// ErrConfig reports an invalid configuration at initialization time.
	ErrConfig = errors.New("invalid configuration")

	// ErrDuplicateID reports a registration under an id that already exists.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrUnknownID reports a lookup of an id that was never registered.
	ErrUnknownID = errors.New("unknown id")

	// ErrCapacityExceeded reports a soft cap hit; the caller clamps or skips.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrInvalidRule reports a genotype whose rules or genes reference
	// ids that do not resolve against the current registries.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrNonConvergent reports that development hit the step cap before
	// reaching a stable state. The returned phenotype is frozen as-is.
	ErrNonConvergent = errors.New("development did not converge")
)
