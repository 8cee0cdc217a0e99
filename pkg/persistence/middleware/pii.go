package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
)

// Mask replaces every redacted match.
const Mask = "***"

type redactionMiddleware struct {
	next     ports.CheckpointStore
	patterns []*regexp.Regexp
}

// NewRedactionMiddleware creates a middleware that masks text matching the patterns
// in message content, task descriptions and fault details before they reach the store.
// The caller's in-memory state is left untouched.
func NewRedactionMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.CheckpointStore) ports.CheckpointStore {
		return &redactionMiddleware{next: next, patterns: patterns}
	}
}

func (m *redactionMiddleware) Save(ctx context.Context, key string, state *domain.SessionState) error {
	cloned := state.Snapshot()
	for i := range cloned.Messages {
		msg := &cloned.Messages[i]
		msg.Content = m.mask(msg.Content)
		for j := range msg.PendingCalls {
			msg.PendingCalls[j].TaskDescription = m.mask(msg.PendingCalls[j].TaskDescription)
		}
		if msg.Fault != nil {
			msg.Fault.Detail = m.mask(msg.Fault.Detail)
		}
	}
	return m.next.Save(ctx, key, cloned)
}

func (m *redactionMiddleware) Load(ctx context.Context, key string) (*domain.SessionState, error) {
	return m.next.Load(ctx, key)
}

func (m *redactionMiddleware) Delete(ctx context.Context, key string) error {
	return m.next.Delete(ctx, key)
}

func (m *redactionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *redactionMiddleware) mask(s string) string {
	for _, p := range m.patterns {
		s = p.ReplaceAllString(s, Mask)
	}
	return s
}
