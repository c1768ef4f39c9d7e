package audit

import (
	"errors"
	"fmt"
)

// Construction errors returned by Builder.Build. Producers treat these as
// caller bugs and surface them.
var (
	ErrUnknownEventType = errors.New("audit: unknown event type")
	ErrEventTooLarge    = errors.New("audit: serialized attributes exceed limit")
	ErrInvalidField     = errors.New("audit: invalid field")
)

// SubmitOutcome is the synchronous result of Service.Submit.
type SubmitOutcome int

const (
	// Accepted means the event was enqueued and will be dispatched.
	Accepted SubmitOutcome = iota
	// RejectedQueueFull means the main queue was at capacity under the
	// drop_newest policy. The drop is counted; the caller should treat it
	// as an observability loss, not a correctness failure.
	RejectedQueueFull
	// RejectedShutdown means the service is draining and no longer admits
	// new events.
	RejectedShutdown
)

func (o SubmitOutcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case RejectedQueueFull:
		return "rejected_queue_full"
	case RejectedShutdown:
		return "rejected_shutdown"
	}
	return fmt.Sprintf("submit_outcome(%d)", int(o))
}

// SinkError classifies a failed publish attempt. Transient errors are
// retried with backoff; permanent errors are dropped and counted.
type SinkError struct {
	Permanent bool
	Msg       string
	Err       error
}

func (e *SinkError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s sink error: %s: %v", kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s sink error: %s", kind, e.Msg)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Transient wraps err as a retry-eligible sink error.
func Transient(msg string, err error) *SinkError {
	return &SinkError{Permanent: false, Msg: msg, Err: err}
}

// PermanentErr wraps err as a non-retriable sink error.
func PermanentErr(msg string, err error) *SinkError {
	return &SinkError{Permanent: true, Msg: msg, Err: err}
}

// IsPermanent reports whether err is a sink error that must not be retried.
// Unclassified errors are treated as transient.
func IsPermanent(err error) bool {
	var se *SinkError
	if errors.As(err, &se) {
		return se.Permanent
	}
	return false
}
