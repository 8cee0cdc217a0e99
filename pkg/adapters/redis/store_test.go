package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/relay/pkg/adapters/redis"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunCheckpointStoreContract(t, redis.NewFromClient(client))
}

func TestRedisStore_AppendsOnlyTheTail(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithPrefix("test:"))
	ctx := context.Background()

	state := domain.NewSessionState("s")
	state.Messages = append(state.Messages, domain.NewUserMessage("one"))
	require.NoError(t, store.Save(ctx, "s", state))

	state.Base = 1
	state.Messages = append(state.Messages, domain.NewAssistantMessage(domain.CoordinatorID, "two"))
	state.StepCount = 1
	require.NoError(t, store.Save(ctx, "s", state))

	items, err := mr.List("test:s:messages")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, "1", mr.HGet("test:s:meta", "step_count"))
}

func TestRedisStore_RefusesShorterLog(t *testing.T) {
	_, client := newClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	state := domain.NewSessionState("s")
	state.Messages = append(state.Messages, domain.NewUserMessage("a"), domain.NewUserMessage("b"))
	require.NoError(t, store.Save(ctx, "s", state))

	state.Messages = state.Messages[:1]
	assert.ErrorIs(t, store.Save(ctx, "s", state), domain.ErrLogRewrite)
}

func TestRedisStore_TTL(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithPrefix("ttl:"), redis.WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "short", domain.NewSessionState("short")))
	assert.Equal(t, time.Minute, mr.TTL("ttl:short:meta"))

	mr.FastForward(2 * time.Minute)

	_, err := store.Load(ctx, "short")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
