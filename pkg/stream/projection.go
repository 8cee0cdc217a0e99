package stream

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/relay/pkg/domain"
)

// Project maps one transition to the events a consumer sees, in order:
// thread-started when leaving START, one message event per appended message,
// then done or error when the transition is terminal.
func Project(t domain.Transition) []domain.Event {
	now := time.Now()
	events := make([]domain.Event, 0, len(t.Appended)+2)

	if t.From == domain.PhaseStart {
		events = append(events, domain.Event{Type: domain.EventThreadStarted, SessionKey: t.SessionKey, Timestamp: now})
	}

	for _, m := range t.Appended {
		events = append(events, domain.Event{
			Type:       domain.EventMessage,
			SessionKey: t.SessionKey,
			Message:    View(m),
			Timestamp:  now,
		})
	}

	switch t.To {
	case domain.PhaseDone:
		events = append(events, domain.Event{Type: domain.EventDone, SessionKey: t.SessionKey, Timestamp: now})
	case domain.PhaseAborted:
		events = append(events, domain.Event{
			Type:       domain.EventError,
			SessionKey: t.SessionKey,
			Error:      Describe(t.Err),
			Timestamp:  now,
		})
	}
	return events
}

// View converts a log entry to its consumer-facing shape.
func View(m domain.Message) *domain.MessageView {
	v := &domain.MessageView{
		Role:      m.Role,
		Producer:  m.Producer,
		Content:   m.Content,
		RequestID: m.RequestID,
	}
	if len(m.PendingCalls) > 0 {
		v.PendingCalls = append([]domain.HandoffRequest(nil), m.PendingCalls...)
	}
	if m.Fault != nil {
		f := *m.Fault
		v.Fault = &f
	}
	return v
}

// Error kinds reported in error events and API error bodies.
const (
	KindIterationLimit = "iteration_limit"
	KindProtocol       = "protocol"
	KindRateLimited    = "rate_limited"
	KindTimeout        = "timeout"
	KindCapability     = "capability"
	KindCanceled       = "canceled"
	KindInternal       = "internal"
)

// Describe classifies an abort reason.
func Describe(err error) *domain.ErrorDetail {
	if err == nil {
		return &domain.ErrorDetail{Kind: KindInternal, Detail: "aborted without a reason"}
	}
	return &domain.ErrorDetail{Kind: Kind(err), Detail: err.Error()}
}

// Kind returns the error kind name of err.
func Kind(err error) string {
	switch {
	case errors.Is(err, domain.ErrIterationLimit):
		return KindIterationLimit
	case errors.Is(err, domain.ErrProtocol):
		return KindProtocol
	case errors.Is(err, domain.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, domain.ErrCapabilityTimeout):
		return KindTimeout
	}
	var ce *domain.CapabilityError
	if errors.As(err, &ce) {
		return KindCapability
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindInternal
}
