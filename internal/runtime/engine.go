package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/aretw0/relay/pkg/registry"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrExecutionFinished is returned when stepping an execution that is DONE or ABORTED.
var ErrExecutionFinished = errors.New("execution already finished")

// DefaultInvokeTimeout bounds a single coordinator or worker invocation.
const DefaultInvokeTimeout = 60 * time.Second

// Engine is the coordinator/worker state machine.
type Engine struct {
	coordinator   ports.Capability
	coordinatorID string
	workers       *registry.Registry

	hooks    domain.LifecycleHooks
	logger   *slog.Logger
	timeout  time.Duration
	parallel bool
	fanLimit int
}

// Option configures the Engine.
type Option func(*Engine)

// WithHooks registers lifecycle callbacks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithInvokeTimeout bounds each capability invocation. Zero disables the bound.
func WithInvokeTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithParallelHandoffs serves the requests of one coordinator batch concurrently.
// Results are still appended in request order.
func WithParallelHandoffs(enabled bool) Option {
	return func(e *Engine) {
		e.parallel = enabled
	}
}

// WithHandoffConcurrency caps how many workers of one batch run at once when
// handoffs are parallel. Zero or less leaves the batch unbounded.
func WithHandoffConcurrency(n int) Option {
	return func(e *Engine) {
		e.fanLimit = n
	}
}

// WithCoordinatorID overrides the producer name stamped on coordinator turns.
func WithCoordinatorID(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.coordinatorID = id
		}
	}
}

// NewEngine creates an engine delegating from coordinator to the given workers.
func NewEngine(coordinator ports.Capability, workers *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		coordinator:   coordinator,
		coordinatorID: domain.CoordinatorID,
		workers:       workers,
		logger:        logging.NewNop(),
		timeout:       DefaultInvokeTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Step performs the work of the current phase and moves x to the next one.
// Protocol, capability and budget failures are reported through the returned
// transition (To == PhaseAborted), never as the error.
func (e *Engine) Step(ctx context.Context, x *Execution) (domain.Transition, error) {
	if x.Phase.Terminal() {
		return domain.Transition{}, ErrExecutionFinished
	}

	t := domain.Transition{SessionKey: x.SessionKey, From: x.Phase}
	switch x.Phase {
	case domain.PhaseStart:
		e.start(ctx, x, &t)
	case domain.PhaseCoordinator:
		e.coordinate(ctx, x, &t)
	case domain.PhaseWorker:
		if e.parallel {
			e.fanOut(ctx, x, &t)
		} else {
			e.work(ctx, x, &t)
		}
	default:
		return domain.Transition{}, fmt.Errorf("unknown phase %q", x.Phase)
	}

	t.To = x.Phase
	t.Step = x.Steps
	t.Err = x.Err
	if x.Phase.Terminal() {
		e.finish(ctx, x)
	}
	return t, nil
}

// Run steps x until it finishes. Useful when no per-step handling is needed.
func (e *Engine) Run(ctx context.Context, x *Execution) ([]domain.Transition, error) {
	var transitions []domain.Transition
	for !x.Phase.Terminal() {
		if err := ctx.Err(); err != nil {
			return transitions, err
		}
		t, err := e.Step(ctx, x)
		if err != nil {
			return transitions, err
		}
		transitions = append(transitions, t)
	}
	return transitions, x.Err
}

// start closes requests left open by an earlier aborted execution, then
// records the user turn.
func (e *Engine) start(ctx context.Context, x *Execution, t *domain.Transition) {
	for _, req := range domain.Unresolved(x.Log) {
		e.logger.Warn("Closing abandoned handoff",
			"session_key", x.SessionKey,
			"worker", req.TargetWorker,
			"request_id", req.RequestID,
		)
		x.append(t, domain.NewToolFault(req.TargetWorker, req.RequestID, domain.Fault{
			Kind:   domain.FaultAbandoned,
			Detail: "the execution that issued this request ended before it was served",
		}))
	}
	x.base = len(x.Log)

	x.append(t, domain.NewUserMessage(x.Query))
	e.advance(ctx, x, t)
}

// coordinate runs one coordinator turn.
func (e *Engine) coordinate(ctx context.Context, x *Execution, t *domain.Transition) {
	out, err := e.invoke(ctx, e.coordinator, x.Query, domain.CloneMessages(x.Log))
	if err != nil {
		e.abort(x, domain.NewCapabilityError(e.coordinatorID, err))
		return
	}

	turn := domain.NewAssistantMessage(e.coordinatorID, out.Content, out.PendingCalls...)
	if !out.CreatedAt.IsZero() {
		turn.CreatedAt = out.CreatedAt
	}
	if err := e.normalizeTurn(&turn); err != nil {
		e.abort(x, err)
		return
	}

	x.append(t, turn)
	if turn.IsTerminal() {
		x.Phase = domain.PhaseDone
		return
	}

	x.batch = turn.PendingCalls
	x.next = 0
	e.advance(ctx, x, t)
}

// normalizeTurn assigns missing request ids and rejects malformed turns.
func (e *Engine) normalizeTurn(turn *domain.Message) error {
	if len(turn.PendingCalls) == 0 && strings.TrimSpace(turn.Content) == "" {
		return &domain.ProtocolError{Reason: domain.ErrMalformedTurn}
	}

	calls := make([]domain.HandoffRequest, len(turn.PendingCalls))
	seen := make(map[string]bool, len(calls))
	for i, call := range turn.PendingCalls {
		if call.RequestID == "" {
			call.RequestID = uuid.NewString()
		}
		if seen[call.RequestID] {
			return &domain.ProtocolError{
				Reason:    fmt.Errorf("%w: duplicate request id", domain.ErrMalformedTurn),
				Worker:    call.TargetWorker,
				RequestID: call.RequestID,
			}
		}
		seen[call.RequestID] = true
		calls[i] = call
	}
	turn.PendingCalls = calls
	return nil
}

// work serves the current request of the batch.
func (e *Engine) work(ctx context.Context, x *Execution, t *domain.Transition) {
	req := x.batch[x.next]
	view := domain.ScopedView(x.Log, req.RequestID)
	x.append(t, e.serve(ctx, x, req, view))
	x.next++
	e.advance(ctx, x, t)
}

// fanOut serves the current request and every following request of the batch
// that passes validation and fits the step budget, concurrently.
func (e *Engine) fanOut(ctx context.Context, x *Execution, t *domain.Transition) {
	reqs := []domain.HandoffRequest{x.batch[x.next]}
	for _, req := range x.batch[x.next+1:] {
		if e.checkRequest(req) != nil || x.Steps+1 > x.MaxSteps {
			break
		}
		x.Steps++
		e.emitStep(ctx, x, domain.PhaseWorker, req.TargetWorker)
		reqs = append(reqs, req)
	}

	views := make([][]domain.Message, len(reqs))
	for i, req := range reqs {
		views[i] = domain.ScopedView(x.Log, req.RequestID)
	}

	results := make([]domain.Message, len(reqs))
	var g errgroup.Group
	if e.fanLimit > 0 {
		g.SetLimit(e.fanLimit)
	}
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = e.serve(ctx, x, req, views[i])
			return nil
		})
	}
	_ = g.Wait()

	x.append(t, results...)
	x.next += len(reqs)
	e.advance(ctx, x, t)
}

// serve invokes one worker and turns the outcome into its tool-role result.
func (e *Engine) serve(ctx context.Context, x *Execution, req domain.HandoffRequest, view []domain.Message) domain.Message {
	ev := &domain.HandoffEvent{SessionKey: x.SessionKey, Request: req}
	if e.hooks.OnHandoff != nil {
		e.hooks.OnHandoff(ctx, ev)
	}

	began := time.Now()
	var result domain.Message

	worker, err := e.workers.Resolve(req.TargetWorker)
	if err == nil {
		var out domain.Message
		out, err = e.invoke(ctx, worker, req.TaskDescription, view)
		if err == nil {
			result = domain.NewToolResult(req.TargetWorker, req.RequestID, out.Content)
		}
	}
	if err != nil {
		fault := domain.NewCapabilityError(req.TargetWorker, err).Fault()
		e.logger.Warn("Worker failed",
			"session_key", x.SessionKey,
			"worker", req.TargetWorker,
			"request_id", req.RequestID,
			"kind", fault.Kind,
			"err", err,
		)
		result = domain.NewToolFault(req.TargetWorker, req.RequestID, fault)
		ev.Fault = result.Fault
	}

	ev.Duration = time.Since(began)
	if e.hooks.OnWorkerReturn != nil {
		e.hooks.OnWorkerReturn(ctx, ev)
	}
	return result
}

// advance enters the next counted phase: the next request of the batch, or the
// coordinator once the batch is drained.
func (e *Engine) advance(ctx context.Context, x *Execution, t *domain.Transition) {
	if x.next < len(x.batch) {
		req := x.batch[x.next]
		if err := e.checkRequest(req); err != nil {
			e.abort(x, err)
			return
		}
		if !e.charge(x) {
			return
		}
		x.Phase = domain.PhaseWorker
		t.Worker = req.TargetWorker
		e.emitStep(ctx, x, domain.PhaseWorker, req.TargetWorker)
		return
	}

	x.batch = nil
	x.next = 0
	if !e.charge(x) {
		return
	}
	x.Phase = domain.PhaseCoordinator
	e.emitStep(ctx, x, domain.PhaseCoordinator, "")
}

// checkRequest validates a request against the registry.
func (e *Engine) checkRequest(req domain.HandoffRequest) error {
	if !e.workers.Has(req.TargetWorker) {
		return &domain.ProtocolError{Reason: domain.ErrUnknownWorker, Worker: req.TargetWorker, RequestID: req.RequestID}
	}
	return req.Validate()
}

// charge counts one step, aborting when the budget is exhausted.
func (e *Engine) charge(x *Execution) bool {
	if x.Steps+1 > x.MaxSteps {
		e.abort(x, &domain.IterationLimitExceeded{MaxSteps: x.MaxSteps})
		return false
	}
	x.Steps++
	return true
}

func (e *Engine) abort(x *Execution, err error) {
	x.Phase = domain.PhaseAborted
	x.Err = err
}

func (e *Engine) emitStep(ctx context.Context, x *Execution, phase domain.Phase, worker string) {
	e.logger.Debug("Entering phase",
		"session_key", x.SessionKey,
		"phase", phase,
		"worker", worker,
		"step", x.Steps,
	)
	if e.hooks.OnStepEnter != nil {
		e.hooks.OnStepEnter(ctx, &domain.StepEvent{
			SessionKey: x.SessionKey,
			Phase:      phase,
			Worker:     worker,
			Step:       x.Steps,
		})
	}
}

func (e *Engine) finish(ctx context.Context, x *Execution) {
	if x.Err != nil {
		e.logger.Info("Execution aborted", "session_key", x.SessionKey, "steps", x.Steps, "err", x.Err)
	} else {
		e.logger.Debug("Execution done", "session_key", x.SessionKey, "steps", x.Steps)
	}
	if e.hooks.OnExecutionEnd != nil {
		e.hooks.OnExecutionEnd(ctx, &domain.ExecutionEvent{
			SessionKey: x.SessionKey,
			Outcome:    x.Phase,
			Steps:      x.Steps,
			Duration:   x.Elapsed(),
			Err:        x.Err,
		})
	}
}

// invoke calls c detached from the caller's cancellation, so a consumer going
// away never interrupts a step halfway. The invocation is still bounded by the
// engine timeout.
func (e *Engine) invoke(ctx context.Context, c ports.Capability, task string, view []domain.Message) (domain.Message, error) {
	ictx := context.WithoutCancel(ctx)
	if e.timeout <= 0 {
		return c.Invoke(ictx, task, view)
	}

	ictx, cancel := context.WithTimeout(ictx, e.timeout)
	defer cancel()

	type outcome struct {
		msg domain.Message
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		msg, err := c.Invoke(ictx, task, view)
		done <- outcome{msg, err}
	}()

	select {
	case o := <-done:
		return o.msg, o.err
	case <-ictx.Done():
		return domain.Message{}, fmt.Errorf("%w after %s: %w", domain.ErrCapabilityTimeout, e.timeout, ictx.Err())
	}
}
