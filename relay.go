package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/internal/runtime"
	"github.com/aretw0/relay/pkg/adapters/memory"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/aretw0/relay/pkg/registry"
	"github.com/aretw0/relay/pkg/runner"
	"github.com/aretw0/relay/pkg/session"
	"github.com/aretw0/relay/pkg/stream"
)

// ErrNoCoordinator is returned by New without a coordinator capability.
var ErrNoCoordinator = errors.New("coordinator capability is required")

// Engine is the high-level entry point of the library.
// It wires the executor, the session manager and the event projection, and
// implements ports.Orchestrator for transport adapters.
type Engine struct {
	runtime     *runtime.Engine
	runner      *runner.Runner
	sessions    *session.Manager
	registry    *registry.Registry
	broadcaster *stream.Broadcaster

	store         ports.CheckpointStore
	locker        ports.DistributedLocker
	lockTTL       time.Duration
	hooks         domain.LifecycleHooks
	logger        *slog.Logger
	maxSteps      int
	maxInputBytes int
	invokeTimeout time.Duration
	parallel      bool
	fanLimit      int
	Name          string
}

var _ ports.Orchestrator = (*Engine)(nil)

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithStore sets the checkpoint store. The default keeps sessions in memory.
func WithStore(store ports.CheckpointStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLocker serializes executions of a session across processes.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = locker
		e.lockTTL = ttl
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMaxSteps sets the step budget of requests that carry none.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		e.maxSteps = n
	}
}

// WithMaxInputBytes bounds the raw size of a query. The default is runner.DefaultMaxInputBytes.
func WithMaxInputBytes(n int) Option {
	return func(e *Engine) {
		e.maxInputBytes = n
	}
}

// WithInvokeTimeout bounds each coordinator and worker invocation.
func WithInvokeTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.invokeTimeout = d
	}
}

// WithParallelHandoffs serves the requests of one batch concurrently.
// Results are still appended in request order.
func WithParallelHandoffs(enabled bool) Option {
	return func(e *Engine) {
		e.parallel = enabled
	}
}

// WithHandoffConcurrency caps the workers of one batch running at once under
// parallel handoffs. Zero leaves it unbounded.
func WithHandoffConcurrency(n int) Option {
	return func(e *Engine) {
		e.fanLimit = n
	}
}

// WithBroadcaster shares the watcher fan-out with other components.
func WithBroadcaster(b *stream.Broadcaster) Option {
	return func(e *Engine) {
		e.broadcaster = b
	}
}

// WithName labels the engine in logs and in the graph.
func WithName(name string) Option {
	return func(e *Engine) {
		e.Name = name
	}
}

// New initializes an Engine. The registry is sealed: workers cannot be added afterwards.
func New(coordinator ports.Capability, workers *registry.Registry, opts ...Option) (*Engine, error) {
	if coordinator == nil {
		return nil, ErrNoCoordinator
	}
	if workers == nil {
		workers = registry.NewRegistry()
	}

	eng := &Engine{
		registry:      workers,
		maxSteps:      domain.DefaultMaxSteps,
		invokeTimeout: runtime.DefaultInvokeTimeout,
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.maxSteps < 1 || eng.maxSteps > domain.MaxStepsLimit {
		return nil, fmt.Errorf("max steps must be in [1, %d], got %d", domain.MaxStepsLimit, eng.maxSteps)
	}
	if eng.maxInputBytes < 0 {
		return nil, fmt.Errorf("max input bytes must not be negative, got %d", eng.maxInputBytes)
	}
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.Name != "" {
		eng.logger = eng.logger.With("engine", eng.Name)
	}
	if eng.store == nil {
		eng.store = memory.NewStore()
	}
	if eng.broadcaster == nil {
		eng.broadcaster = stream.NewBroadcaster(eng.logger)
	}

	workers.Seal()

	eng.runtime = runtime.NewEngine(coordinator, workers,
		runtime.WithHooks(eng.hooks),
		runtime.WithLogger(eng.logger),
		runtime.WithInvokeTimeout(eng.invokeTimeout),
		runtime.WithParallelHandoffs(eng.parallel),
		runtime.WithHandoffConcurrency(eng.fanLimit),
	)

	sessionOpts := []session.Option{session.WithLogger(eng.logger)}
	if eng.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(eng.locker))
		if eng.lockTTL > 0 {
			sessionOpts = append(sessionOpts, session.WithLockTTL(eng.lockTTL))
		}
	}
	eng.sessions = session.NewManager(eng.store, sessionOpts...)

	eng.runner = runner.NewRunner(eng.runtime, eng.sessions,
		runner.WithLogger(eng.logger),
		runner.WithBroadcaster(eng.broadcaster),
		runner.WithDefaultMaxSteps(eng.maxSteps),
		runner.WithMaxInputBytes(eng.maxInputBytes),
	)

	return eng, nil
}

// Validate reports whether req would be accepted, without running it.
func (e *Engine) Validate(req domain.Request) error {
	_, err := runner.Normalize(req, e.runner.Limits())
	return err
}

// Submit runs a query to completion and returns the report.
func (e *Engine) Submit(ctx context.Context, req domain.Request) (*domain.Report, error) {
	return e.runner.Run(ctx, req, nil)
}

// Stream runs a query, emitting events as transitions happen.
func (e *Engine) Stream(ctx context.Context, req domain.Request, emit ports.Emitter) (*domain.Report, error) {
	return e.runner.Run(ctx, req, emit)
}

// CreateSession reserves a new session key.
func (e *Engine) CreateSession(ctx context.Context) (string, error) {
	return e.sessions.Create(ctx)
}

// Messages returns the ordered log of a session.
// Returns domain.ErrSessionNotFound for a key that was never saved.
func (e *Engine) Messages(ctx context.Context, key string) ([]domain.Message, error) {
	state, err := e.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return domain.CloneMessages(state.Messages), nil
}

// Sessions lists known session keys.
func (e *Engine) Sessions(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}

// DeleteSession removes a session. It waits for a running execution of the session.
func (e *Engine) DeleteSession(ctx context.Context, key string) error {
	return e.sessions.Delete(ctx, key)
}

// Workers returns the registered worker catalog.
func (e *Engine) Workers() []ports.WorkerInfo {
	return e.registry.Catalog()
}

// Watch follows the events of a session produced by any execution of this engine.
// The returned function stops watching.
func (e *Engine) Watch(key string) (<-chan domain.Event, func()) {
	return e.broadcaster.Subscribe(key)
}

// Registry returns the sealed worker registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}
