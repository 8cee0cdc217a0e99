package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/relay/pkg/domain"
)

// Route binds a worker to the keywords that select it.
type Route struct {
	Worker   string
	Keywords []string
}

// KeywordCoordinator is a deterministic coordinator.
// On a new query it delegates to every worker whose keywords appear in it,
// then synthesizes an answer once the batch is resolved.
type KeywordCoordinator struct {
	id       string
	routes   []Route
	fallback string
}

// KeywordOption configures a KeywordCoordinator.
type KeywordOption func(*KeywordCoordinator)

// WithFallback sets the worker used when no keyword matches.
func WithFallback(worker string) KeywordOption {
	return func(c *KeywordCoordinator) {
		c.fallback = worker
	}
}

// WithProducer sets the producer id of emitted turns.
func WithProducer(id string) KeywordOption {
	return func(c *KeywordCoordinator) {
		c.id = id
	}
}

// NewKeywordCoordinator creates a coordinator routing by the given table.
// Routes are matched in order; keywords are case-insensitive.
func NewKeywordCoordinator(routes []Route, opts ...KeywordOption) *KeywordCoordinator {
	c := &KeywordCoordinator{id: domain.CoordinatorID}
	for _, r := range routes {
		kw := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw = append(kw, k)
			}
		}
		c.routes = append(c.routes, Route{Worker: r.Worker, Keywords: kw})
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke implements ports.Capability.
func (c *KeywordCoordinator) Invoke(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
	query, since := latestQuery(view)
	if query == "" {
		query = task
	}

	var results []domain.Message
	delegated := false
	for _, m := range view[since:] {
		switch m.Role {
		case domain.RoleAssistant:
			delegated = delegated || len(m.PendingCalls) > 0
		case domain.RoleTool:
			results = append(results, m)
		}
	}
	if delegated {
		return domain.NewAssistantMessage(c.id, synthesize(results)), nil
	}

	calls := c.route(query)
	if len(calls) == 0 {
		return domain.NewAssistantMessage(c.id, "No worker can help with this request."), nil
	}
	return domain.NewAssistantMessage(c.id, "", calls...), nil
}

func (c *KeywordCoordinator) route(query string) []domain.HandoffRequest {
	lower := strings.ToLower(query)
	var calls []domain.HandoffRequest
	for _, r := range c.routes {
		for _, k := range r.Keywords {
			if strings.Contains(lower, k) {
				calls = append(calls, domain.HandoffRequest{TargetWorker: r.Worker, TaskDescription: query})
				break
			}
		}
	}
	if len(calls) == 0 && c.fallback != "" {
		calls = append(calls, domain.HandoffRequest{TargetWorker: c.fallback, TaskDescription: query})
	}
	return calls
}

// latestQuery returns the content of the last user message and the index after it.
func latestQuery(view []domain.Message) (string, int) {
	for i := len(view) - 1; i >= 0; i-- {
		if view[i].Role == domain.RoleUser {
			return view[i].Content, i + 1
		}
	}
	return "", 0
}

func synthesize(results []domain.Message) string {
	if len(results) == 0 {
		return domain.NoAnswer
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if r.Failed() {
			fmt.Fprintf(&b, "%s was unavailable (%s).", r.Producer, r.Fault.Kind)
			continue
		}
		fmt.Fprintf(&b, "From %s:\n%s", r.Producer, r.Content)
	}
	return b.String()
}
