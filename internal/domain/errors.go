package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Each branch propagates differently: input-data errors
// exclude the affected lot only, external-service errors degrade to
// fallbacks and lower confidence, timeouts yield partial reports, and only
// configuration errors and total upstream unavailability abort a run.
var (
	// ErrInvalidTransaction marks a malformed transaction record.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrInvalidConfig marks rejected harvest parameters.
	ErrInvalidConfig = errors.New("invalid harvest config")

	// ErrExternalService marks a dependency failure that was (or should
	// be) absorbed by a fallback.
	ErrExternalService = errors.New("external service unavailable")

	// ErrComputationInFlight signals a rejected duplicate run for a user
	// whose computation is already running.
	ErrComputationInFlight = errors.New("computation already in progress")

	// ErrRunDeadline marks a run that exceeded its overall deadline.
	ErrRunDeadline = errors.New("computation deadline exceeded")
)

// InsufficientQuantityError reports an oversell in the transaction
// history: a disposal consumed more than the lots held at that point.
// Surfaced as a data-quality error, never silently clamped.
type InsufficientQuantityError struct {
	Token    Token
	Needed   float64
	Held     float64
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("insufficient quantity for %s: sell of %v exceeds held %v",
		e.Token, e.Needed, e.Held)
}

// Is makes the error match ErrInvalidTransaction via errors.Is.
func (e *InsufficientQuantityError) Is(target error) bool {
	return target == ErrInvalidTransaction
}
