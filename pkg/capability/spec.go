package capability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/relay/pkg/adapters/process"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
)

// Kind selects the backend of a worker.
type Kind string

const (
	KindStub    Kind = "stub"
	KindStatic  Kind = "static"
	KindProcess Kind = "process"
	KindRemote  Kind = "remote"
)

// ErrUnknownKind is returned for a worker declaring an unsupported kind.
var ErrUnknownKind = errors.New("unknown worker kind")

// Spec declares one worker as read from a catalog.
type Spec struct {
	ID          string
	Description string
	Kind        Kind
	Tool        string        // process tool name, for KindProcess
	URL         string        // endpoint, for KindRemote
	Content     string        // fixed answer, for KindStatic
	Keywords    []string      // routing hints for the keyword coordinator
	Timeout     time.Duration // per-invocation bound; zero uses the executor default
	Fallback    bool          // receives queries no keyword matched
}

// Factory builds worker capabilities from specs.
type Factory struct {
	Tools  *process.Runner
	Client *http.Client
}

// Build returns the capability backing spec.
func (f Factory) Build(spec Spec) (ports.Capability, error) {
	var (
		c   ports.Capability
		err error
	)
	switch spec.Kind {
	case KindStub, "":
		c = Stub(spec.ID)
	case KindStatic:
		c = Static(spec.ID, spec.Content)
	case KindProcess:
		if f.Tools == nil {
			return nil, fmt.Errorf("worker %s: %w", spec.ID, process.ErrToolNotRegistered)
		}
		c, err = f.Tools.Capability(spec.ID, spec.Tool)
	case KindRemote:
		if spec.URL == "" {
			return nil, fmt.Errorf("worker %s: remote kind requires a url", spec.ID)
		}
		opts := []RemoteOption{}
		if f.Client != nil {
			opts = append(opts, WithHTTPClient(f.Client))
		}
		c = NewRemote(spec.ID, spec.URL, opts...)
	default:
		return nil, fmt.Errorf("worker %s: %w: %q", spec.ID, ErrUnknownKind, spec.Kind)
	}
	if err != nil {
		return nil, err
	}
	if spec.Timeout > 0 {
		c = WithTimeout(c, spec.Timeout)
	}
	return c, nil
}

// Routes extracts the keyword routing table and the fallback worker from specs.
func Routes(specs []Spec) ([]Route, string) {
	var (
		routes   []Route
		fallback string
	)
	for _, s := range specs {
		if len(s.Keywords) > 0 {
			routes = append(routes, Route{Worker: s.ID, Keywords: s.Keywords})
		}
		if s.Fallback && fallback == "" {
			fallback = s.ID
		}
	}
	return routes, fallback
}

// WithTimeout bounds every invocation of c by d.
func WithTimeout(c ports.Capability, d time.Duration) ports.Capability {
	return ports.CapabilityFunc(func(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return c.Invoke(ctx, task, view)
	})
}
