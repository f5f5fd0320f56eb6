package lifecycle

import (
	"errors"
	"fmt"

	"github.com/example/job-dispatch/internal/models"
)

var (
	// ErrNotAuthenticated rejects calls with no caller identity attached.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrVerificationFailed rejects a completion whose PIN does not match.
	// The stored PIN is never revealed.
	ErrVerificationFailed = errors.New("pin verification failed")
)

// InvalidTransitionError reports a status change not reachable from the
// job's current state. The current state is included for the caller.
type InvalidTransitionError struct {
	From models.JobStatus
	To   models.JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition job from %q to %q", e.From, e.To)
}

// ValidationError rejects malformed input before any write happens.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
