package ports

import (
	"context"

	"github.com/aretw0/relay/pkg/domain"
)

// Emitter receives projected events in order. Returning an error stops the
// execution before its next step.
type Emitter func(domain.Event) error

// WorkerInfo describes a registered worker.
type WorkerInfo struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Orchestrator is the driving port used by transport adapters.
type Orchestrator interface {
	// Submit runs a query to completion and returns the report.
	Submit(ctx context.Context, req domain.Request) (*domain.Report, error)

	// Stream runs a query, emitting events as transitions happen.
	Stream(ctx context.Context, req domain.Request, emit Emitter) (*domain.Report, error)

	// CreateSession reserves a new session key.
	CreateSession(ctx context.Context) (string, error)

	// Messages returns the ordered log of a session.
	Messages(ctx context.Context, key string) ([]domain.Message, error)

	// Sessions lists known session keys.
	Sessions(ctx context.Context) ([]string, error)

	// DeleteSession removes a session. Administrative only.
	DeleteSession(ctx context.Context, key string) error

	// Workers returns the registered worker catalog.
	Workers() []WorkerInfo
}
