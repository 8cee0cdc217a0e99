package runtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aretw0/relay/internal/runtime"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/aretw0/relay/pkg/registry"
	"github.com/stretchr/testify/require"
)

// scripted returns a coordinator that plays back turns in order.
// Once the script is exhausted it answers with a fixed final message.
func scripted(turns ...domain.Message) *script {
	return &script{turns: turns}
}

type script struct {
	mu    sync.Mutex
	turns []domain.Message
	calls int
	views [][]domain.Message
}

func (s *script) Invoke(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = append(s.views, view)
	if s.calls >= len(s.turns) {
		s.calls++
		return domain.Message{Content: "script exhausted"}, nil
	}
	turn := s.turns[s.calls]
	s.calls++
	return turn, nil
}

func calls(reqs ...domain.HandoffRequest) domain.Message {
	return domain.Message{PendingCalls: reqs}
}

func answer(content string) domain.Message {
	return domain.Message{Content: content}
}

func handoff(worker, task, id string) domain.HandoffRequest {
	return domain.HandoffRequest{TargetWorker: worker, TaskDescription: task, RequestID: id}
}

func returns(content string) ports.Capability {
	return ports.CapabilityFunc(func(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
		return domain.Message{Content: content}, nil
	})
}

func fails(err error) ports.Capability {
	return ports.CapabilityFunc(func(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
		return domain.Message{}, err
	})
}

var errQuota = errors.New("quota exhausted")

func workers(t *testing.T, caps map[string]ports.Capability, order ...string) *registry.Registry {
	t.Helper()
	r := registry.NewRegistry()
	for _, id := range order {
		require.NoError(t, r.Register(id, id+" worker", caps[id]))
	}
	r.Seal()
	return r
}

func run(t *testing.T, e *runtime.Engine, x *runtime.Execution) []domain.Transition {
	t.Helper()
	transitions, _ := e.Run(context.Background(), x)
	return transitions
}
