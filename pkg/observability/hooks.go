package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/relay/pkg/domain"
)

// LogHooks returns hooks that log every lifecycle event at debug level.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepEnter: func(ctx context.Context, e *domain.StepEvent) {
			logger.DebugContext(ctx, "step_enter",
				"session_key", e.SessionKey,
				"phase", e.Phase,
				"worker", e.Worker,
				"step", e.Step,
			)
		},
		OnHandoff: func(ctx context.Context, e *domain.HandoffEvent) {
			logger.DebugContext(ctx, "handoff",
				"session_key", e.SessionKey,
				"worker", e.Request.TargetWorker,
				"request_id", e.Request.RequestID,
			)
		},
		OnWorkerReturn: func(ctx context.Context, e *domain.HandoffEvent) {
			args := []any{
				"session_key", e.SessionKey,
				"worker", e.Request.TargetWorker,
				"request_id", e.Request.RequestID,
				"duration", e.Duration,
			}
			if e.Fault != nil {
				args = append(args, "fault", e.Fault.Kind)
			}
			logger.DebugContext(ctx, "worker_return", args...)
		},
		OnExecutionEnd: func(ctx context.Context, e *domain.ExecutionEvent) {
			logger.DebugContext(ctx, "execution_end",
				"session_key", e.SessionKey,
				"outcome", e.Outcome,
				"steps", e.Steps,
				"duration", e.Duration,
				"err", e.Err,
			)
		},
	}
}

// Combine merges hook sets; each callback runs the non-nil ones in order.
func Combine(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, h := range sets {
		out.OnStepEnter = chain(out.OnStepEnter, h.OnStepEnter)
		out.OnHandoff = chain(out.OnHandoff, h.OnHandoff)
		out.OnWorkerReturn = chain(out.OnWorkerReturn, h.OnWorkerReturn)
		out.OnExecutionEnd = chain(out.OnExecutionEnd, h.OnExecutionEnd)
	}
	return out
}

func chain[E any](a, b func(context.Context, *E)) func(context.Context, *E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e *E) {
		a(ctx, e)
		b(ctx, e)
	}
}
