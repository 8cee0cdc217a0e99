package ports

import (
	"context"

	"github.com/aretw0/relay/pkg/domain"
)

// CheckpointStore defines the interface for persisting session state.
// A saved state survives the process, so a session can be resumed by key.
type CheckpointStore interface {
	// Save persists the state for a given session key.
	// Implementations that can detect it return domain.ErrLogRewrite when the
	// new log is shorter than the stored one.
	Save(ctx context.Context, key string, state *domain.SessionState) error

	// Load retrieves the state for a given session key.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, key string) (*domain.SessionState, error)

	// Delete removes the state for a given session key.
	Delete(ctx context.Context, key string) error

	// List returns all known session keys.
	List(ctx context.Context) ([]string, error)
}
