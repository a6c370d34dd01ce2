package automation

import "errors"

// Sentinel errors surfaced by the command surface.
var (
	// ErrRuleNotFound is returned when operating on an unknown rule id.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleExists is returned when creating a rule whose id is taken.
	ErrRuleExists = errors.New("rule already exists")

	// ErrInvalidRule is returned for malformed rule definitions.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrReviewNotFound is returned when operating on an unknown review id.
	ErrReviewNotFound = errors.New("review item not found")

	// ErrInvalidReviewStatus is returned when transitioning a review item
	// to an unknown status.
	ErrInvalidReviewStatus = errors.New("invalid review status")

	// ErrEngineDisabled is returned by manual triggers while the whole
	// engine is disabled.
	ErrEngineDisabled = errors.New("automation engine is disabled")
)
