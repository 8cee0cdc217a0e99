package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/aretw0/relay/pkg/stream"
)

// NewSession reserves a session key and prints it.
func NewSession(ctx context.Context, engine ports.Orchestrator, out io.Writer) error {
	key, err := engine.CreateSession(ctx)
	if err != nil {
		return fmt.Errorf("error creating session: %w", err)
	}
	fmt.Fprintln(out, key)
	return nil
}

// ListSessions prints every known session key.
func ListSessions(ctx context.Context, engine ports.Orchestrator, out io.Writer) error {
	keys, err := engine.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("error listing sessions: %w", err)
	}
	if len(keys) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}
	fmt.Fprintln(out, "Sessions:")
	for _, k := range keys {
		fmt.Fprintln(out, "- "+k)
	}
	return nil
}

// InspectSession prints the log of a session as indented JSON.
func InspectSession(ctx context.Context, engine ports.Orchestrator, key string, out io.Writer) error {
	log, err := engine.Messages(ctx, key)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return fmt.Errorf("session '%s' not found", key)
	}
	if err != nil {
		return fmt.Errorf("error loading session '%s': %w", key, err)
	}

	views := make([]*domain.MessageView, 0, len(log))
	for _, m := range log {
		views = append(views, stream.View(m))
	}
	data, err := json.MarshalIndent(map[string]any{"session_key": key, "messages": views}, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling session: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

// RemoveSessions deletes each key, reporting every failure.
func RemoveSessions(ctx context.Context, engine ports.Orchestrator, keys []string, out io.Writer) error {
	var errs []error
	for _, key := range keys {
		if err := engine.DeleteSession(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("error removing '%s': %w", key, err))
			continue
		}
		fmt.Fprintf(out, "Removed session '%s'\n", key)
	}
	return errors.Join(errs...)
}
