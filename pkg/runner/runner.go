package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/internal/runtime"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/aretw0/relay/pkg/session"
	"github.com/aretw0/relay/pkg/stream"
)

// ErrConsumerGone is returned when the emitter rejects an event.
var ErrConsumerGone = errors.New("event consumer gone")

// Runner executes queries against sessions.
type Runner struct {
	engine   *runtime.Engine
	sessions *session.Manager

	broadcaster *stream.Broadcaster
	logger      *slog.Logger
	limits      Limits
}

// NewRunner creates a runner for the given engine and session manager.
func NewRunner(engine *runtime.Engine, sessions *session.Manager, opts ...Option) *Runner {
	r := &Runner{
		engine:   engine,
		sessions: sessions,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sessions returns the session manager.
func (r *Runner) Sessions() *session.Manager {
	return r.sessions
}

// Run executes one query. With a nil emitter it only returns the report.
//
// The session is held for the whole execution. Cancellation of ctx is honoured
// between steps; the step in progress always completes and is checkpointed.
// An aborted execution returns a nil report and the abort reason.
func (r *Runner) Run(ctx context.Context, req domain.Request, emit ports.Emitter) (*domain.Report, error) {
	req, err := Normalize(req, r.limits)
	if err != nil {
		return nil, err
	}

	log := r.logger.With("session_key", req.SessionKey)
	log.Debug("Execution requested", "max_steps", req.MaxSteps)

	var report *domain.Report
	err = r.sessions.Exclusive(ctx, req.SessionKey, func(ctx context.Context, cur *session.Cursor) error {
		x := runtime.NewExecution(req.SessionKey, req.Query, req.MaxSteps, cur.Snapshot())

		for !x.Phase.Terminal() {
			if ctx.Err() != nil {
				err := context.Cause(ctx)
				log.Info("Execution canceled between steps", "steps", x.Steps, "err", err)
				return err
			}

			t, err := r.engine.Step(ctx, x)
			if err != nil {
				return err
			}

			if err := cur.Append(context.WithoutCancel(ctx), x.Steps, t.Appended...); err != nil {
				return err
			}

			for _, ev := range stream.Project(t) {
				if r.broadcaster != nil {
					r.broadcaster.Publish(ev)
				}
				if emit == nil {
					continue
				}
				if err := emit(ev); err != nil {
					log.Info("Consumer gone, stopping execution", "steps", x.Steps, "err", err)
					return fmt.Errorf("%w: %w", ErrConsumerGone, err)
				}
			}
		}

		if x.Err != nil {
			return x.Err
		}
		report = x.Report()
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("Execution done",
		"steps", report.Steps,
		"workers", report.WorkersUsed,
		"elapsed_ms", report.ElapsedMillis,
	)
	return report, nil
}
