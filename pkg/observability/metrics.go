package observability

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/relay/pkg/domain"
)

// Namespace prefixes every metric name.
const Namespace = "relay"

// Metrics holds the executor collectors.
type Metrics struct {
	Steps          *prometheus.CounterVec
	Handoffs       *prometheus.CounterVec
	WorkerDuration *prometheus.HistogramVec
	Executions     *prometheus.CounterVec
	ExecutionSteps prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "steps_total",
				Help:      "Counted steps by phase and worker.",
			},
			[]string{"phase", "worker"},
		),
		Handoffs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "handoffs_total",
				Help:      "Worker invocations by worker and outcome.",
			},
			[]string{"worker", "outcome"},
		),
		WorkerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "worker_duration_seconds",
				Help:      "Duration of worker invocations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"worker"},
		),
		Executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "executions_total",
				Help:      "Finished executions by outcome and error kind.",
			},
			[]string{"outcome", "reason"},
		),
		ExecutionSteps: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "execution_steps",
				Help:      "Steps used per execution.",
				Buckets:   prometheus.LinearBuckets(1, 2, 10),
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Steps, m.Handoffs, m.WorkerDuration, m.Executions, m.ExecutionSteps)
	}
	return m
}

// Hooks returns lifecycle hooks feeding the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepEnter: func(_ context.Context, e *domain.StepEvent) {
			m.Steps.WithLabelValues(string(e.Phase), e.Worker).Inc()
		},
		OnWorkerReturn: func(_ context.Context, e *domain.HandoffEvent) {
			outcome := "ok"
			if e.Fault != nil {
				outcome = string(e.Fault.Kind)
			}
			m.Handoffs.WithLabelValues(e.Request.TargetWorker, outcome).Inc()
			m.WorkerDuration.WithLabelValues(e.Request.TargetWorker).Observe(e.Duration.Seconds())
		},
		OnExecutionEnd: func(_ context.Context, e *domain.ExecutionEvent) {
			m.Executions.WithLabelValues(string(e.Outcome), reason(e.Err)).Inc()
			m.ExecutionSteps.Observe(float64(e.Steps))
		},
	}
}

func reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrIterationLimit):
		return "iteration_limit"
	case errors.Is(err, domain.ErrProtocol):
		return "protocol"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrCapabilityTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "capability"
	}
}
