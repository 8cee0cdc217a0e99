package domain

import (
	"context"
	"time"
)

// EventType defines the category of a streamed event.
type EventType string

const (
	EventThreadStarted EventType = "thread-started"
	EventMessage       EventType = "message"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// MessageView is the consumer-facing shape of a log entry.
type MessageView struct {
	Role         Role             `json:"role"`
	Producer     string           `json:"producer,omitempty"`
	Content      string           `json:"content"`
	PendingCalls []HandoffRequest `json:"pending_calls,omitempty"`
	RequestID    string           `json:"request_id,omitempty"`
	Fault        *Fault           `json:"fault,omitempty"`
}

// ErrorDetail describes why an execution aborted.
type ErrorDetail struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Event is one element of the stream projected from executor transitions.
type Event struct {
	Type       EventType    `json:"type"`
	SessionKey string       `json:"session_key"`
	Message    *MessageView `json:"message,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

// StepEvent is emitted when the executor enters a counted phase.
type StepEvent struct {
	SessionKey string
	Phase      Phase
	Worker     string
	Step       int
}

// HandoffEvent describes one worker invocation.
type HandoffEvent struct {
	SessionKey string
	Request    HandoffRequest
	Duration   time.Duration
	Fault      *Fault
}

// ExecutionEvent is emitted once per execution, on DONE or ABORTED.
type ExecutionEvent struct {
	SessionKey string
	Outcome    Phase
	Steps      int
	Duration   time.Duration
	Err        error
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnStepEnter    func(context.Context, *StepEvent)
	OnHandoff      func(context.Context, *HandoffEvent)
	OnWorkerReturn func(context.Context, *HandoffEvent)
	OnExecutionEnd func(context.Context, *ExecutionEvent)
}
