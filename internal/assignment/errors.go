package assignment

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/errors"
)

// Re-exported so callers of this package do not need pkg/errors to match.
var (
	ErrInvalidInput      = apperrors.ErrInvalidInput
	ErrMatchingExhausted = apperrors.ErrMatchingExhausted
)

// Validate checks that agents and targets describe a complete, equal-size
// instance with finite coordinates.
func Validate(agents, targets []Point) error {
	if len(agents) == 0 || len(targets) == 0 {
		return fmt.Errorf("%w: need at least one agent and one target (got %d, %d)",
			ErrInvalidInput, len(agents), len(targets))
	}
	if len(agents) != len(targets) {
		return fmt.Errorf("%w: %d agents but %d targets", ErrInvalidInput, len(agents), len(targets))
	}
	for i, p := range agents {
		if !p.finite() {
			return fmt.Errorf("%w: agent %d has non-finite position", ErrInvalidInput, i+1)
		}
	}
	for i, p := range targets {
		if !p.finite() {
			return fmt.Errorf("%w: target %d has non-finite position", ErrInvalidInput, i)
		}
	}
	return nil
}
