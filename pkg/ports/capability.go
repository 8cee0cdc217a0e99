package ports

import (
	"context"

	"github.com/aretw0/relay/pkg/domain"
)

// Capability is a coordinator or worker the executor can invoke.
//
// The view is a read-only copy of the conversation log. A coordinator returns an
// assistant message, possibly with pending handoff requests; a worker returns a
// message whose content becomes its result. Returning an error marks the
// invocation as failed; wrap domain.ErrRateLimited to signal quota exhaustion.
type Capability interface {
	Invoke(ctx context.Context, task string, view []domain.Message) (domain.Message, error)
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc func(ctx context.Context, task string, view []domain.Message) (domain.Message, error)

// Invoke calls f.
func (f CapabilityFunc) Invoke(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
	return f(ctx, task, view)
}
