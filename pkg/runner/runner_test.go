package runner_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aretw0/relay/internal/runtime"
	"github.com/aretw0/relay/pkg/adapters/memory"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/aretw0/relay/pkg/registry"
	"github.com/aretw0/relay/pkg/runner"
	"github.com/aretw0/relay/pkg/session"
	"github.com/aretw0/relay/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// delegateOnce hands the query to "local" when the last message is the user
// turn, and answers with the worker result otherwise.
var delegateOnce = ports.CapabilityFunc(func(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
	last := view[len(view)-1]
	if last.Role == domain.RoleUser {
		return domain.Message{PendingCalls: []domain.HandoffRequest{{TargetWorker: "local", TaskDescription: task}}}, nil
	}
	return domain.Message{Content: "answer: " + last.Content}, nil
})

func newRunner(t *testing.T, coordinator ports.Capability, opts ...runner.Option) (*runner.Runner, *session.Manager) {
	t.Helper()
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register("local", "local documents", ports.CapabilityFunc(
		func(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
			return domain.Message{Content: "docs about " + task}, nil
		})))
	reg.Seal()

	sessions := session.NewManager(memory.NewStore())
	return runner.NewRunner(runtime.NewEngine(coordinator, reg), sessions, opts...), sessions
}

func TestRunner_BlockingRunCheckpointsTheLog(t *testing.T) {
	r, sessions := newRunner(t, delegateOnce)
	ctx := context.Background()

	report, err := r.Run(ctx, domain.Request{Query: "remote work", SessionKey: "s1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "answer: docs about remote work", report.Answer)
	assert.Equal(t, []string{"local"}, report.WorkersUsed)
	assert.Equal(t, "s1", report.SessionKey)

	state, err := sessions.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, state.Messages, 4)
	assert.Equal(t, 3, state.StepCount)
}

func TestRunner_SessionContinuity(t *testing.T) {
	var views [][]domain.Message
	coord := ports.CapabilityFunc(func(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
		views = append(views, view)
		return domain.Message{Content: "reply to " + task}, nil
	})
	r, _ := newRunner(t, coord)
	ctx := context.Background()

	_, err := r.Run(ctx, domain.Request{Query: "first", SessionKey: "k"}, nil)
	require.NoError(t, err)
	report, err := r.Run(ctx, domain.Request{Query: "second", SessionKey: "k"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "reply to second", report.Answer)
	require.Len(t, views, 2)
	require.Len(t, views[1], 3, "second turn sees the first exchange")
	assert.Equal(t, "first", views[1][0].Content)
}

func TestRunner_StreamEmitsEventsInOrder(t *testing.T) {
	r, _ := newRunner(t, delegateOnce)

	var events []domain.Event
	_, err := r.Run(context.Background(), domain.Request{Query: "q", SessionKey: "s"}, func(ev domain.Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	var got []string
	for _, ev := range events {
		name := string(ev.Type)
		if ev.Message != nil {
			name += ":" + string(ev.Message.Role)
		}
		got = append(got, name)
	}
	assert.Equal(t, []string{
		"thread-started",
		"message:user",
		"message:assistant",
		"message:tool",
		"message:assistant",
		"done",
	}, got)
}

func TestRunner_AbortIsReportedAsError(t *testing.T) {
	r, sessions := newRunner(t, delegateOnce)
	ctx := context.Background()

	var last domain.Event
	report, err := r.Run(ctx, domain.Request{Query: "q", SessionKey: "s", MaxSteps: 1}, func(ev domain.Event) error {
		last = ev
		return nil
	})

	assert.Nil(t, report)
	assert.ErrorIs(t, err, domain.ErrIterationLimit)
	assert.Equal(t, domain.EventError, last.Type)
	assert.Equal(t, stream.KindIterationLimit, last.Error.Kind)

	state, err := sessions.Load(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, state.Messages, 2)
	assert.Equal(t, 1, state.StepCount)
}

func TestRunner_EmitterErrorStopsBeforeNextStep(t *testing.T) {
	r, sessions := newRunner(t, delegateOnce)
	ctx := context.Background()
	gone := errors.New("client disconnected")

	_, err := r.Run(ctx, domain.Request{Query: "q", SessionKey: "s"}, func(ev domain.Event) error {
		if ev.Type == domain.EventThreadStarted {
			return gone
		}
		return nil
	})
	assert.ErrorIs(t, err, runner.ErrConsumerGone)
	assert.ErrorIs(t, err, gone)

	// The first transition was already checkpointed.
	msgs, err := sessions.Snapshot(ctx, "s")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
}

func TestRunner_CancellationBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	coord := ports.CapabilityFunc(func(c context.Context, task string, view []domain.Message) (domain.Message, error) {
		cancel()
		// The step in progress is not interrupted.
		if c.Err() != nil {
			return domain.Message{}, c.Err()
		}
		return domain.Message{PendingCalls: []domain.HandoffRequest{{TargetWorker: "local", TaskDescription: task}}}, nil
	})
	r, sessions := newRunner(t, coord)

	_, err := r.Run(ctx, domain.Request{Query: "q", SessionKey: "s"}, nil)
	assert.ErrorIs(t, err, context.Canceled)

	msgs, err := sessions.Snapshot(context.Background(), "s")
	require.NoError(t, err)
	require.Len(t, msgs, 2, "the coordinator turn completed and was checkpointed")
	assert.Len(t, msgs[1].PendingCalls, 1)
}

func TestRunner_ConcurrentRunsOnOneSessionAreSerialized(t *testing.T) {
	r, sessions := newRunner(t, delegateOnce)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Run(ctx, domain.Request{Query: "q", SessionKey: "shared"}, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs, err := sessions.Snapshot(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, msgs, 20)
	for i := 0; i < len(msgs); i += 4 {
		assert.Equal(t, domain.RoleUser, msgs[i].Role, "executions must not interleave")
		assert.Equal(t, domain.RoleTool, msgs[i+2].Role)
		assert.Equal(t, msgs[i+1].PendingCalls[0].RequestID, msgs[i+2].RequestID)
	}
}

func TestRunner_Broadcasts(t *testing.T) {
	b := stream.NewBroadcaster(nil)
	ch, cancel := b.Subscribe("watched")
	defer cancel()

	r, _ := newRunner(t, delegateOnce, runner.WithBroadcaster(b))
	_, err := r.Run(context.Background(), domain.Request{Query: "q", SessionKey: "watched"}, nil)
	require.NoError(t, err)

	assert.Len(t, ch, 6)
}

func TestRunner_RejectsInvalidRequests(t *testing.T) {
	r, _ := newRunner(t, delegateOnce)
	ctx := context.Background()

	tests := []struct {
		name string
		req  domain.Request
		want error
	}{
		{"empty", domain.Request{Query: "  "}, runner.ErrEmptyQuery},
		{"too long", domain.Request{Query: strings.Repeat("a", runner.MaxQueryLength+1)}, runner.ErrQueryTooLong},
		{"negative steps", domain.Request{Query: "q", MaxSteps: -1}, runner.ErrInvalidMaxSteps},
		{"too many steps", domain.Request{Query: "q", MaxSteps: domain.MaxStepsLimit + 1}, runner.ErrInvalidMaxSteps},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Run(ctx, tt.req, nil)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, runner.ErrInvalidRequest)
		})
	}
}
