// Package apperr defines the error kinds surfaced by the offer registry and
// the claim workflow. Callers wrap them with fmt.Errorf("...: %w") and test
// them with errors.Is.
package apperr

import "errors"

var (
	ErrNoActiveOffer     = errors.New("no active offer")
	ErrDuplicateClaim    = errors.New("user already has a live claim on the active offer")
	ErrPaymentsDisabled  = errors.New("payments are disabled for the active offer")
	ErrOutOfStock        = errors.New("no boxes left in stock")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("caller lacks the required role")
	ErrInvalidTransition = errors.New("invalid claim status transition")
)

// Kind returns the sentinel wrapped by err, or nil when err carries none.
func Kind(err error) error {
	for _, kind := range []error{
		ErrNoActiveOffer,
		ErrDuplicateClaim,
		ErrPaymentsDisabled,
		ErrOutOfStock,
		ErrNotFound,
		ErrUnauthorized,
		ErrInvalidTransition,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
