package observability_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/observability"
)

func TestMetrics_Hooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	hooks := m.Hooks()
	ctx := context.Background()

	hooks.OnStepEnter(ctx, &domain.StepEvent{Phase: domain.PhaseCoordinator, Worker: domain.CoordinatorID, Step: 1})
	hooks.OnStepEnter(ctx, &domain.StepEvent{Phase: domain.PhaseWorker, Worker: "web", Step: 2})
	hooks.OnWorkerReturn(ctx, &domain.HandoffEvent{
		Request:  domain.HandoffRequest{TargetWorker: "web"},
		Duration: 20 * time.Millisecond,
	})
	hooks.OnWorkerReturn(ctx, &domain.HandoffEvent{
		Request: domain.HandoffRequest{TargetWorker: "web"},
		Fault:   &domain.Fault{Kind: domain.FaultRateLimited},
	})
	hooks.OnExecutionEnd(ctx, &domain.ExecutionEvent{Outcome: domain.PhaseAborted, Steps: 5, Err: &domain.IterationLimitExceeded{MaxSteps: 5}})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Steps.WithLabelValues("worker", "web")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Handoffs.WithLabelValues("web", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Handoffs.WithLabelValues("web", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("aborted", "iteration_limit")))

	expected := `
# HELP relay_execution_steps Steps used per execution.
# TYPE relay_execution_steps histogram
relay_execution_steps_bucket{le="1"} 0
relay_execution_steps_bucket{le="3"} 0
relay_execution_steps_bucket{le="5"} 1
relay_execution_steps_bucket{le="7"} 1
relay_execution_steps_bucket{le="9"} 1
relay_execution_steps_bucket{le="11"} 1
relay_execution_steps_bucket{le="13"} 1
relay_execution_steps_bucket{le="15"} 1
relay_execution_steps_bucket{le="17"} 1
relay_execution_steps_bucket{le="19"} 1
relay_execution_steps_bucket{le="+Inf"} 1
relay_execution_steps_sum 5
relay_execution_steps_count 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "relay_execution_steps"))
}

func TestCombine(t *testing.T) {
	var calls []string
	first := domain.LifecycleHooks{
		OnStepEnter: func(context.Context, *domain.StepEvent) { calls = append(calls, "first") },
	}
	second := domain.LifecycleHooks{
		OnStepEnter:    func(context.Context, *domain.StepEvent) { calls = append(calls, "second") },
		OnExecutionEnd: func(context.Context, *domain.ExecutionEvent) { calls = append(calls, "end") },
	}

	hooks := observability.Combine(first, domain.LifecycleHooks{}, second)
	hooks.OnStepEnter(context.Background(), &domain.StepEvent{})
	hooks.OnExecutionEnd(context.Background(), &domain.ExecutionEvent{})

	assert.Nil(t, hooks.OnHandoff)
	assert.Equal(t, []string{"first", "second", "end"}, calls)
}
