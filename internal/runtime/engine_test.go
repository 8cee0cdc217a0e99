package runtime_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/relay/internal/runtime"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_SingleWorkerRoundTrip(t *testing.T) {
	coord := scripted(
		calls(handoff("local_knowledge", "find the remote-work policy", "r1")),
		answer("Employees may work remotely three days a week."),
	)
	reg := workers(t, map[string]ports.Capability{
		"local_knowledge": returns("Policy: remote work allowed 3 days/week."),
	}, "local_knowledge")

	e := runtime.NewEngine(coord, reg)
	x := runtime.NewExecution("s1", "What is the remote-work policy?", 10, nil)
	transitions := run(t, e, x)

	require.NoError(t, x.Err)
	assert.Equal(t, domain.PhaseDone, x.Phase)
	assert.Equal(t, 3, x.Steps)

	phases := make([]domain.Phase, len(transitions))
	for i, tr := range transitions {
		phases[i] = tr.To
	}
	assert.Equal(t, []domain.Phase{domain.PhaseCoordinator, domain.PhaseWorker, domain.PhaseCoordinator, domain.PhaseDone}, phases)

	log := x.Appended()
	require.Len(t, log, 4)
	assert.Equal(t, domain.RoleUser, log[0].Role)
	assert.Equal(t, domain.RoleAssistant, log[1].Role)
	assert.Equal(t, domain.CoordinatorID, log[1].Producer)
	assert.Equal(t, domain.RoleTool, log[2].Role)
	assert.Equal(t, "local_knowledge", log[2].Producer)
	assert.Equal(t, "r1", log[2].RequestID)

	report := x.Report()
	assert.Equal(t, "Employees may work remotely three days a week.", report.Answer)
	assert.Equal(t, []string{"local_knowledge"}, report.WorkersUsed)
	assert.Equal(t, "s1", report.SessionKey)
}

func TestEngine_TwoWorkersResolvedInRequestOrder(t *testing.T) {
	coord := scripted(
		calls(handoff("local_knowledge", "internal docs", "a"), handoff("web_search", "recent news", "b")),
		answer("combined answer"),
	)
	reg := workers(t, map[string]ports.Capability{
		"local_knowledge": returns("docs"),
		"web_search":      returns("news"),
	}, "local_knowledge", "web_search")

	x := runtime.NewExecution("s2", "compare our policy with industry news", 10, nil)
	run(t, runtime.NewEngine(coord, reg), x)

	require.NoError(t, x.Err)
	report := x.Report()
	assert.Equal(t, []string{"local_knowledge", "web_search"}, report.WorkersUsed)
	assert.Equal(t, "combined answer", report.Answer)

	log := x.Appended()
	assert.Equal(t, "a", log[2].RequestID)
	assert.Equal(t, "b", log[3].RequestID)

	// The second coordinator turn saw both results.
	require.Len(t, coord.views, 2)
	assert.Len(t, coord.views[1], 4)
}

func TestEngine_StepBudgetExhaustedBeforeWorker(t *testing.T) {
	coord := scripted(calls(handoff("local_knowledge", "docs", "r1")))
	reg := workers(t, map[string]ports.Capability{"local_knowledge": returns("docs")}, "local_knowledge")

	x := runtime.NewExecution("s3", "q", 1, nil)
	run(t, runtime.NewEngine(coord, reg), x)

	assert.Equal(t, domain.PhaseAborted, x.Phase)
	assert.ErrorIs(t, x.Err, domain.ErrIterationLimit)
	assert.LessOrEqual(t, x.Steps, 1)

	for _, m := range x.Appended() {
		assert.NotEqual(t, domain.RoleTool, m.Role, "no worker result may be recorded")
	}
}

func TestEngine_UnknownWorkerAborts(t *testing.T) {
	coord := scripted(calls(handoff("local_knowledge", "docs", "a"), handoff("sql_agent", "query db", "b")))
	reg := workers(t, map[string]ports.Capability{"local_knowledge": returns("docs")}, "local_knowledge")

	x := runtime.NewExecution("s4", "q", 10, nil)
	transitions := run(t, runtime.NewEngine(coord, reg), x)

	assert.Equal(t, domain.PhaseAborted, x.Phase)
	assert.ErrorIs(t, x.Err, domain.ErrProtocol)
	assert.ErrorIs(t, x.Err, domain.ErrUnknownWorker)

	log := x.Appended()
	require.Len(t, log, 3, "user, coordinator turn and the first result only")
	assert.Equal(t, "a", log[2].RequestID)

	last := transitions[len(transitions)-1]
	assert.Equal(t, domain.PhaseAborted, last.To)
	assert.Equal(t, x.Err, last.Err)
}

func TestEngine_RateLimitedWorkerIsRecorded(t *testing.T) {
	coord := scripted(
		calls(handoff("web_search", "news", "r1")),
		answer("I could not reach the web, here is what I know."),
	)
	reg := workers(t, map[string]ports.Capability{
		"web_search": fails(fmt.Errorf("tavily: %w", domain.ErrRateLimited)),
	}, "web_search")

	x := runtime.NewExecution("s5", "q", 10, nil)
	run(t, runtime.NewEngine(coord, reg), x)

	require.NoError(t, x.Err)
	assert.Equal(t, domain.PhaseDone, x.Phase)

	result := x.Appended()[2]
	assert.Equal(t, domain.RoleTool, result.Role)
	require.NotNil(t, result.Fault)
	assert.Equal(t, domain.FaultRateLimited, result.Fault.Kind)

	// The coordinator saw the fault on its next turn.
	require.Len(t, coord.views, 2)
	assert.True(t, coord.views[1][2].Failed())
	assert.Equal(t, "I could not reach the web, here is what I know.", x.Report().Answer)
}

func TestEngine_ContentWithCallsIsNotTerminal(t *testing.T) {
	coord := scripted(
		domain.Message{Content: "let me look", PendingCalls: []domain.HandoffRequest{handoff("local", "t", "r1")}},
		answer("final"),
	)
	reg := workers(t, map[string]ports.Capability{"local": returns("x")}, "local")

	x := runtime.NewExecution("s", "q", 10, nil)
	run(t, runtime.NewEngine(coord, reg), x)

	require.NoError(t, x.Err)
	assert.Equal(t, 2, coord.calls)
	assert.Equal(t, "final", x.Report().Answer)
}

func TestEngine_MalformedTurnAborts(t *testing.T) {
	coord := scripted(domain.Message{Content: "   "})
	reg := workers(t, nil)

	x := runtime.NewExecution("s", "q", 10, nil)
	run(t, runtime.NewEngine(coord, reg), x)

	assert.ErrorIs(t, x.Err, domain.ErrProtocol)
	assert.ErrorIs(t, x.Err, domain.ErrMalformedTurn)
	assert.Len(t, x.Appended(), 1)
}

func TestEngine_DuplicateRequestIDsAbort(t *testing.T) {
	coord := scripted(calls(handoff("local", "a", "same"), handoff("local", "b", "same")))
	reg := workers(t, map[string]ports.Capability{"local": returns("x")}, "local")

	x := runtime.NewExecution("s", "q", 10, nil)
	run(t, runtime.NewEngine(coord, reg), x)

	assert.ErrorIs(t, x.Err, domain.ErrMalformedTurn)
}

func TestEngine_EmptyTaskAborts(t *testing.T) {
	coord := scripted(calls(handoff("local", " ", "r1")))
	reg := workers(t, map[string]ports.Capability{"local": returns("x")}, "local")

	x := runtime.NewExecution("s", "q", 10, nil)
	run(t, runtime.NewEngine(coord, reg), x)

	assert.ErrorIs(t, x.Err, domain.ErrEmptyTask)
}

func TestEngine_MissingRequestIDsAreAssigned(t *testing.T) {
	coord := scripted(calls(handoff("local", "a", ""), handoff("local", "b", "")), answer("ok"))
	reg := workers(t, map[string]ports.Capability{"local": returns("x")}, "local")

	x := runtime.NewExecution("s", "q", 10, nil)
	run(t, runtime.NewEngine(coord, reg), x)
	require.NoError(t, x.Err)

	log := x.Appended()
	ids := log[1].PendingCalls
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0].RequestID)
	assert.NotEqual(t, ids[0].RequestID, ids[1].RequestID)
	assert.Equal(t, ids[0].RequestID, log[2].RequestID)
	assert.Equal(t, ids[1].RequestID, log[3].RequestID)
}

func TestEngine_CoordinatorFailureAborts(t *testing.T) {
	reg := workers(t, nil)

	t.Run("rate limited", func(t *testing.T) {
		x := runtime.NewExecution("s", "q", 10, nil)
		run(t, runtime.NewEngine(fails(fmt.Errorf("llm: %w", domain.ErrRateLimited)), reg), x)

		assert.Equal(t, domain.PhaseAborted, x.Phase)
		assert.ErrorIs(t, x.Err, domain.ErrRateLimited)
		var ce *domain.CapabilityError
		require.ErrorAs(t, x.Err, &ce)
		assert.Equal(t, domain.CoordinatorID, ce.Worker)
	})

	t.Run("generic", func(t *testing.T) {
		x := runtime.NewExecution("s", "q", 10, nil)
		run(t, runtime.NewEngine(fails(errQuota), reg), x)

		assert.ErrorIs(t, x.Err, errQuota)
		assert.NotErrorIs(t, x.Err, domain.ErrRateLimited)
	})
}

func TestEngine_WorkerTimeout(t *testing.T) {
	slow := ports.CapabilityFunc(func(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
		<-ctx.Done()
		return domain.Message{}, ctx.Err()
	})
	coord := scripted(calls(handoff("slow", "t", "r1")), answer("gave up"))
	reg := workers(t, map[string]ports.Capability{"slow": slow}, "slow")

	x := runtime.NewExecution("s", "q", 10, nil)
	run(t, runtime.NewEngine(coord, reg, runtime.WithInvokeTimeout(10*time.Millisecond)), x)

	require.NoError(t, x.Err)
	result := x.Appended()[2]
	require.NotNil(t, result.Fault)
	assert.Equal(t, domain.FaultTimeout, result.Fault.Kind)
}

func TestEngine_RepairsAbandonedRequests(t *testing.T) {
	history := []domain.Message{
		domain.NewUserMessage("earlier"),
		domain.NewAssistantMessage(domain.CoordinatorID, "", handoff("local", "t", "old-1")),
	}
	coord := scripted(answer("fresh answer"))
	reg := workers(t, map[string]ports.Capability{"local": returns("x")}, "local")

	x := runtime.NewExecution("s", "new question", 10, history)
	transitions := run(t, runtime.NewEngine(coord, reg), x)

	require.NoError(t, x.Err)
	require.Len(t, x.Log, 5)
	repaired := x.Log[2]
	assert.Equal(t, "old-1", repaired.RequestID)
	require.NotNil(t, repaired.Fault)
	assert.Equal(t, domain.FaultAbandoned, repaired.Fault.Kind)

	// The repair is persisted with the first transition but not reported.
	assert.Len(t, transitions[0].Appended, 2)
	assert.Empty(t, x.Report().WorkerResults)
	assert.Equal(t, "new question", x.Appended()[0].Content)
}

func TestEngine_WorkerViewIsScoped(t *testing.T) {
	var seen []domain.Message
	spy := ports.CapabilityFunc(func(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
		if task == "second" {
			seen = view
		}
		view[0].Content = "tampered"
		return domain.Message{Content: "ok"}, nil
	})
	coord := scripted(calls(handoff("spy", "first", "a"), handoff("spy", "second", "b")), answer("done"))
	reg := workers(t, map[string]ports.Capability{"spy": spy}, "spy")

	x := runtime.NewExecution("s", "q", 10, nil)
	run(t, runtime.NewEngine(coord, reg), x)

	require.NoError(t, x.Err)
	require.Len(t, seen[1].PendingCalls, 1)
	assert.Equal(t, "b", seen[1].PendingCalls[0].RequestID)
	assert.Equal(t, "q", x.Log[0].Content, "workers cannot mutate the log")
}

func TestEngine_ParallelHandoffsKeepRequestOrder(t *testing.T) {
	release := make(chan struct{})
	first := ports.CapabilityFunc(func(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
		<-release
		return domain.Message{Content: "first"}, nil
	})
	second := ports.CapabilityFunc(func(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
		close(release)
		return domain.Message{Content: "second"}, nil
	})
	coord := scripted(calls(handoff("one", "a", "a"), handoff("two", "b", "b")), answer("done"))
	reg := workers(t, map[string]ports.Capability{"one": first, "two": second}, "one", "two")

	x := runtime.NewExecution("s", "q", 10, nil)
	transitions := run(t, runtime.NewEngine(coord, reg, runtime.WithParallelHandoffs(true)), x)

	require.NoError(t, x.Err)
	log := x.Appended()
	assert.Equal(t, "first", log[2].Content)
	assert.Equal(t, "second", log[3].Content)
	assert.Equal(t, 4, x.Steps)

	// Both results were appended by one transition.
	assert.Len(t, transitions[2].Appended, 2)
}

func TestEngine_HandoffConcurrencyCapsRunningWorkers(t *testing.T) {
	var running, peak atomic.Int32
	slow := ports.CapabilityFunc(func(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return domain.Message{Content: task}, nil
	})
	coord := scripted(calls(
		handoff("w", "a", "a"), handoff("w", "b", "b"), handoff("w", "c", "c"), handoff("w", "d", "d"),
	), answer("done"))
	reg := workers(t, map[string]ports.Capability{"w": slow}, "w")

	x := runtime.NewExecution("s", "q", 10, nil)
	run(t, runtime.NewEngine(coord, reg, runtime.WithParallelHandoffs(true), runtime.WithHandoffConcurrency(2)), x)

	require.NoError(t, x.Err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	log := x.Appended()
	for i, want := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, want, log[2+i].Content)
	}
}

func TestEngine_ParallelRespectsBudget(t *testing.T) {
	coord := scripted(calls(handoff("one", "a", "a"), handoff("two", "b", "b")))
	reg := workers(t, map[string]ports.Capability{"one": returns("1"), "two": returns("2")}, "one", "two")

	x := runtime.NewExecution("s", "q", 2, nil)
	run(t, runtime.NewEngine(coord, reg, runtime.WithParallelHandoffs(true)), x)

	assert.ErrorIs(t, x.Err, domain.ErrIterationLimit)
	assert.Equal(t, 2, x.Steps)
	assert.Len(t, x.Appended(), 3)
}

func TestEngine_StepAfterFinish(t *testing.T) {
	x := runtime.NewExecution("s", "q", 10, nil)
	e := runtime.NewEngine(scripted(answer("a")), workers(t, nil))
	run(t, e, x)

	_, err := e.Step(context.Background(), x)
	assert.ErrorIs(t, err, runtime.ErrExecutionFinished)
}

func TestEngine_Hooks(t *testing.T) {
	var phases []domain.Phase
	var handoffs, returned int
	var end *domain.ExecutionEvent

	hooks := domain.LifecycleHooks{
		OnStepEnter:    func(ctx context.Context, ev *domain.StepEvent) { phases = append(phases, ev.Phase) },
		OnHandoff:      func(ctx context.Context, ev *domain.HandoffEvent) { handoffs++ },
		OnWorkerReturn: func(ctx context.Context, ev *domain.HandoffEvent) { returned++ },
		OnExecutionEnd: func(ctx context.Context, ev *domain.ExecutionEvent) { end = ev },
	}
	coord := scripted(calls(handoff("local", "t", "r1")), answer("done"))
	reg := workers(t, map[string]ports.Capability{"local": returns("x")}, "local")

	x := runtime.NewExecution("s", "q", 10, nil)
	run(t, runtime.NewEngine(coord, reg, runtime.WithHooks(hooks)), x)

	assert.Equal(t, []domain.Phase{domain.PhaseCoordinator, domain.PhaseWorker, domain.PhaseCoordinator}, phases)
	assert.Equal(t, 1, handoffs)
	assert.Equal(t, 1, returned)
	require.NotNil(t, end)
	assert.Equal(t, domain.PhaseDone, end.Outcome)
	assert.Equal(t, 3, end.Steps)
}
