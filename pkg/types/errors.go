package types

import "errors"

// Input-contract violations. Any of these aborts the query.
var (
	ErrInvalidCandidate = errors.New("invalid candidate")
	ErrInvalidArchetype = errors.New("invalid archetype")
	ErrInvalidStage     = errors.New("invalid stage")
	ErrInvalidMode      = errors.New("invalid mode")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrInvalidLimit     = errors.New("invalid limit")
	ErrEmptyQuery       = errors.New("query cannot be empty")
)

// IsContractViolation reports whether err stems from invalid caller input
// rather than an internal or upstream failure.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrInvalidCandidate) ||
		errors.Is(err, ErrInvalidArchetype) ||
		errors.Is(err, ErrInvalidStage) ||
		errors.Is(err, ErrInvalidMode) ||
		errors.Is(err, ErrInvalidCategory) ||
		errors.Is(err, ErrInvalidLimit) ||
		errors.Is(err, ErrEmptyQuery)
}
