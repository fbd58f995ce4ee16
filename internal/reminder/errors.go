package reminder

import (
	"errors"
	"fmt"
)

// Failure taxonomy for Process. Terminal failures delete the reminder;
// ErrCommandUnavailable (the command may come back) and ErrCommandFailed
// (the handler ran and errored, it may succeed next time) preserve it.
var (
	ErrOwnerNotFound       = errors.New("owner not found")
	ErrDestinationNotFound = errors.New("destination not found")
	ErrInvokerNotFound     = errors.New("command invoker not found")
	ErrEmptyContent        = errors.New("empty content")
	ErrDeliveryFailed      = errors.New("delivery failed")
	ErrCommandUnavailable  = errors.New("command unavailable")
	ErrCommandFailed       = errors.New("command execution failed")
	ErrInvokerUnauthorized = errors.New("invoker no longer authorized")
)

// FailError carries the reminder identity into the diagnostic so failures
// are never reported without saying which reminder they killed.
type FailError struct {
	Err     error
	OwnerID int64
	ID      int
	Kind    ContentKind

	// Deleted reports whether the reminder was removed as part of the failure.
	Deleted bool
}

func (e *FailError) Error() string {
	verdict := "the reminder has been kept"
	if e.Deleted {
		verdict = "the reminder has been deleted"
	}
	return fmt.Sprintf("%v for reminder %d#%d@%s; %s", e.Err, e.OwnerID, e.ID, e.Kind, verdict)
}

func (e *FailError) Unwrap() error { return e.Err }

func (r *Reminder) fail(err error, deleted bool) *FailError {
	return &FailError{Err: err, OwnerID: r.OwnerID, ID: r.ID, Kind: r.Content.Kind, Deleted: deleted}
}
