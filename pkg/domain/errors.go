package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned by a store when a session key has never been saved.
// The session manager turns it into a fresh state; it never reaches callers of an execution.
var ErrSessionNotFound = errors.New("session not found")

// ErrLogRewrite is returned by a store asked to save a log shorter than the one it holds.
var ErrLogRewrite = errors.New("message log is append-only")

// ErrConcurrentWrite is returned by a store when the stored log no longer has the
// length the writer loaded, i.e. another writer appended in between.
var ErrConcurrentWrite = errors.New("session log changed since it was loaded")

// ErrMalformedMessage is returned when a message's fields do not match its role.
var ErrMalformedMessage = errors.New("malformed message")

var (
	// ErrProtocol matches every *ProtocolError.
	ErrProtocol = errors.New("protocol error")

	// ErrUnknownWorker is the reason of a handoff naming a worker that is not registered.
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrEmptyTask is the reason of a handoff without a task description.
	ErrEmptyTask = errors.New("empty task description")

	// ErrMalformedTurn is the reason of a coordinator turn with neither content nor calls,
	// or with duplicate request ids.
	ErrMalformedTurn = errors.New("malformed coordinator turn")
)

var (
	// ErrRateLimited matches a *CapabilityError raised by quota exhaustion upstream.
	ErrRateLimited = errors.New("rate limited")

	// ErrCapabilityTimeout matches a *CapabilityError raised by an invocation timeout.
	ErrCapabilityTimeout = errors.New("capability timed out")
)

// ErrIterationLimit matches every *IterationLimitExceeded.
var ErrIterationLimit = errors.New("iteration limit exceeded")

var (
	// ErrDuplicateWorker is returned when registering an id twice.
	ErrDuplicateWorker = errors.New("worker already registered")

	// ErrRegistrySealed is returned when registering after startup.
	ErrRegistrySealed = errors.New("registry is sealed")
)

// ProtocolError reports a violation of the handoff protocol by the coordinator.
// It aborts the execution.
type ProtocolError struct {
	Reason    error
	Worker    string
	RequestID string
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Worker != "" && e.RequestID != "":
		return fmt.Sprintf("protocol error: %v: worker %q (request %s)", e.Reason, e.Worker, e.RequestID)
	case e.Worker != "":
		return fmt.Sprintf("protocol error: %v: worker %q", e.Reason, e.Worker)
	default:
		return fmt.Sprintf("protocol error: %v", e.Reason)
	}
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func (e *ProtocolError) Unwrap() error {
	return e.Reason
}

// CapabilityError reports a failed invocation of a coordinator or worker.
type CapabilityError struct {
	Worker     string
	Kind       FaultKind
	RetryAfter time.Duration
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %s failed (%s): %v", e.Worker, e.Kind, e.Err)
}

func (e *CapabilityError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == FaultRateLimited
	case ErrCapabilityTimeout:
		return e.Kind == FaultTimeout
	}
	return false
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// Fault converts the error into the marker stored on a tool-role message.
func (e *CapabilityError) Fault() Fault {
	return Fault{Kind: e.Kind, Detail: e.Err.Error(), RetryAfter: e.RetryAfter}
}

// IterationLimitExceeded reports that an execution needed more than MaxSteps steps.
type IterationLimitExceeded struct {
	MaxSteps int
}

func (e *IterationLimitExceeded) Error() string {
	return fmt.Sprintf("iteration limit exceeded: max_steps=%d", e.MaxSteps)
}

func (e *IterationLimitExceeded) Is(target error) bool {
	return target == ErrIterationLimit
}

// NewCapabilityError classifies err raised while invoking worker.
// Errors that already are a *CapabilityError keep their kind.
func NewCapabilityError(worker string, err error) *CapabilityError {
	var ce *CapabilityError
	if errors.As(err, &ce) {
		if ce.Worker == "" {
			ce.Worker = worker
		}
		return ce
	}

	kind := FaultUpstream
	switch {
	case errors.Is(err, ErrRateLimited):
		kind = FaultRateLimited
	case errors.Is(err, ErrCapabilityTimeout), errors.Is(err, context.DeadlineExceeded):
		kind = FaultTimeout
	}
	return &CapabilityError{Worker: worker, Kind: kind, Err: err}
}
