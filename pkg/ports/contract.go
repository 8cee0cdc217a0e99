package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCheckpointStoreContract runs a suite of tests to verify that a CheckpointStore
// implementation adheres to the defined interface contract.
func RunCheckpointStoreContract(t *testing.T, store CheckpointStore) {
	ctx := context.Background()
	key := "contract-test-session-" + time.Now().Format("20060102150405.000000")

	call := domain.HandoffRequest{TargetWorker: "web", TaskDescription: "look it up", RequestID: "req-1"}
	sample := func(k string) *domain.SessionState {
		s := domain.NewSessionState(k)
		s.Messages = append(s.Messages,
			domain.NewUserMessage("what is new?"),
			domain.NewAssistantMessage(domain.CoordinatorID, "checking", call),
			domain.NewToolFault("web", "req-1", domain.Fault{Kind: domain.FaultRateLimited, Detail: "429"}),
		)
		s.StepCount = 2
		return s
	}

	t.Run("Save and Load", func(t *testing.T) {
		state := sample(key)
		require.NoError(t, store.Save(ctx, key, state), "Save should not return error")

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, key, loaded.Key)
		assert.Equal(t, 2, loaded.StepCount)
		require.Len(t, loaded.Messages, 3)

		assert.Equal(t, domain.RoleUser, loaded.Messages[0].Role)
		assert.Equal(t, "what is new?", loaded.Messages[0].Content)
		require.Len(t, loaded.Messages[1].PendingCalls, 1)
		assert.Equal(t, call, loaded.Messages[1].PendingCalls[0])
		assert.Equal(t, "req-1", loaded.Messages[2].RequestID)
		require.NotNil(t, loaded.Messages[2].Fault)
		assert.Equal(t, domain.FaultRateLimited, loaded.Messages[2].Fault.Kind)
	})

	t.Run("Load Is Idempotent", func(t *testing.T) {
		first, err := store.Load(ctx, key)
		require.NoError(t, err)
		second, err := store.Load(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, len(first.Messages), len(second.Messages))
		for i := range first.Messages {
			assert.Equal(t, first.Messages[i].Content, second.Messages[i].Content)
		}
	})

	t.Run("Append Preserves Order", func(t *testing.T) {
		state, err := store.Load(ctx, key)
		require.NoError(t, err)

		state.Messages = append(state.Messages, domain.NewAssistantMessage(domain.CoordinatorID, "final"))
		state.StepCount = 3
		require.NoError(t, store.Save(ctx, key, state))

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err)
		require.Len(t, loaded.Messages, 4)
		assert.Equal(t, "final", loaded.Messages[3].Content)
		assert.Equal(t, 3, loaded.StepCount)
	})

	t.Run("Loaded State Is Detached", func(t *testing.T) {
		loaded, err := store.Load(ctx, key)
		require.NoError(t, err)
		loaded.Messages[0].Content = "mutated"

		again, err := store.Load(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "what is new?", again.Messages[0].Content)
	})

	t.Run("Stale Writer Is Refused", func(t *testing.T) {
		first, err := store.Load(ctx, key)
		require.NoError(t, err)
		second, err := store.Load(ctx, key)
		require.NoError(t, err)

		first.Messages = append(first.Messages, domain.NewUserMessage("from first"))
		require.NoError(t, store.Save(ctx, key, first))

		second.Messages = append(second.Messages, domain.NewUserMessage("from second"))
		assert.ErrorIs(t, store.Save(ctx, key, second), domain.ErrConcurrentWrite)

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "from first", loaded.Messages[len(loaded.Messages)-1].Content)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+key)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, key), "Delete should not return error")

		_, err := store.Load(ctx, key)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := key + "-1"
		id2 := key + "-2"
		require.NoError(t, store.Save(ctx, id1, sample(id1)))
		require.NoError(t, store.Save(ctx, id2, sample(id2)))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}
