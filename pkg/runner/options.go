package runner

import (
	"log/slog"

	"github.com/aretw0/relay/pkg/stream"
)

// Option defines a functional option for configuring the Runner.
type Option func(*Runner)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithBroadcaster publishes every projected event to passive watchers.
func WithBroadcaster(b *stream.Broadcaster) Option {
	return func(r *Runner) {
		r.broadcaster = b
	}
}

// WithDefaultMaxSteps sets the step budget of requests that carry none.
func WithDefaultMaxSteps(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.limits.DefaultMaxSteps = n
		}
	}
}

// WithMaxInputBytes bounds the raw size of a query. Non-positive values keep DefaultMaxInputBytes.
func WithMaxInputBytes(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.limits.MaxInputBytes = n
		}
	}
}

// Limits returns the request bounds the runner enforces.
func (r *Runner) Limits() Limits {
	return r.limits.withDefaults()
}
