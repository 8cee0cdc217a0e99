// Package redis provides a Redis-backed checkpoint store and distributed locker.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aretw0/relay/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "relay:session:"

// Store implements ports.CheckpointStore using Redis.
//
// Each session is a list of JSON-encoded messages plus a hash of metadata.
// Saves only push the messages the list does not hold yet, inside a WATCH
// transaction, and only while the list still has the length the writer loaded.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for sessions.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Client exposes the underlying client, e.g. to build a Locker on it.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) messagesKey(key string) string {
	return s.prefix + key + ":messages"
}

func (s *Store) metaKey(key string) string {
	return s.prefix + key + ":meta"
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Save appends the messages Redis does not hold yet and updates the metadata.
func (s *Store) Save(ctx context.Context, key string, state *domain.SessionState) error {
	msgsKey, metaKey := s.messagesKey(key), s.metaKey(key)

	err := s.client.Watch(ctx, func(tx *backend.Tx) error {
		stored, err := tx.LLen(ctx, msgsKey).Result()
		if err != nil {
			return fmt.Errorf("failed to read log length: %w", err)
		}
		if err := state.CheckBase(int(stored)); err != nil {
			return err
		}

		tail := make([]any, 0, len(state.Messages)-int(stored))
		for _, m := range state.Messages[stored:] {
			data, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}
			tail = append(tail, data)
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			if len(tail) > 0 {
				pipe.RPush(ctx, msgsKey, tail...)
			}
			pipe.HSet(ctx, metaKey,
				"step_count", state.StepCount,
				"created_at", state.CreatedAt.Format(time.RFC3339Nano),
				"updated_at", state.UpdatedAt.Format(time.RFC3339Nano),
			)
			if s.ttl > 0 {
				pipe.Expire(ctx, msgsKey, s.ttl)
				pipe.Expire(ctx, metaKey, s.ttl)
			}

			// Index score is the expiry time, so List can prune lazily.
			score := float64(time.Now().Add(s.ttl).Unix())
			if s.ttl == 0 {
				score = 4102444800 // 2100-01-01
			}
			pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: key})
			return nil
		})
		return err
	}, msgsKey)

	if errors.Is(err, domain.ErrLogRewrite) || errors.Is(err, domain.ErrConcurrentWrite) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load retrieves the state from Redis.
func (s *Store) Load(ctx context.Context, key string) (*domain.SessionState, error) {
	meta, err := s.client.HGetAll(ctx, s.metaKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	if len(meta) == 0 {
		return nil, domain.ErrSessionNotFound
	}

	raw, err := s.client.LRange(ctx, s.messagesKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	state := &domain.SessionState{Key: key, Messages: make([]domain.Message, 0, len(raw)), Base: len(raw)}
	for i, item := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message %d: %w", i, err)
		}
		state.Messages = append(state.Messages, m)
	}

	state.StepCount, _ = strconv.Atoi(meta["step_count"])
	state.CreatedAt, _ = time.Parse(time.RFC3339Nano, meta["created_at"])
	state.UpdatedAt, _ = time.Parse(time.RFC3339Nano, meta["updated_at"])
	return state, nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, key string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.messagesKey(key), s.metaKey(key))
	pipe.ZRem(ctx, s.indexKey(), key)

	_, err := pipe.Exec(ctx)
	return err
}

// List returns active sessions, pruning expired entries from the index first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
	}

	sessions, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
