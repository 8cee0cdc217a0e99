package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/google/uuid"
)

// DefaultLockTTL bounds how long a distributed lock outlives a crashed holder.
const DefaultLockTTL = 2 * time.Minute

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates session access, ensuring safe concurrent operations.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	store ports.CheckpointStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the expiry of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new Session Manager with the given checkpoint store.
func NewManager(store ports.CheckpointStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(key) after unlocking.
func (m *Manager) acquire(key string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		entry = &lockEntry{}
		m.locks[key] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, key)
	}
}

// load reads the stored state, or a fresh unsaved one when the key is unknown.
func (m *Manager) load(ctx context.Context, key string) (*domain.SessionState, error) {
	state, err := m.store.Load(ctx, key)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.NewSessionState(key), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", key, err)
	}
	if state.Messages == nil {
		state.Messages = []domain.Message{}
	}
	return state, nil
}

// Load returns the state of a session. An unknown key yields a fresh, empty state
// that is not persisted.
func (m *Manager) Load(ctx context.Context, key string) (*domain.SessionState, error) {
	var state *domain.SessionState
	err := m.WithLock(ctx, key, func(ctx context.Context) error {
		var err error
		state, err = m.load(ctx, key)
		return err
	})
	return state, err
}

// Create reserves a new session key and persists an empty state for it.
func (m *Manager) Create(ctx context.Context) (string, error) {
	key := uuid.NewString()
	err := m.WithLock(ctx, key, func(ctx context.Context) error {
		if err := m.store.Save(ctx, key, domain.NewSessionState(key)); err != nil {
			return fmt.Errorf("failed to initialize session: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Append adds messages to the end of the session log and records steps as the
// session step count, in one write.
func (m *Manager) Append(ctx context.Context, key string, steps int, msgs ...domain.Message) error {
	return m.Exclusive(ctx, key, func(ctx context.Context, c *Cursor) error {
		return c.Append(ctx, steps, msgs...)
	})
}

// Snapshot returns a copy of the ordered session log.
func (m *Manager) Snapshot(ctx context.Context, key string) ([]domain.Message, error) {
	state, err := m.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return domain.CloneMessages(state.Messages), nil
}

// Delete removes the session from the store.
func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.WithLock(ctx, key, func(ctx context.Context) error {
		return m.store.Delete(ctx, key)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying checkpoint store.
func (m *Manager) Store() ports.CheckpointStore {
	return m.store
}

// Exclusive holds the session for the duration of fn. The cursor reads and
// appends without re-acquiring the lock. With a distributed locker, the context
// passed to fn is canceled with ports.ErrLockLost if the lock cannot be kept.
func (m *Manager) Exclusive(ctx context.Context, key string, fn func(context.Context, *Cursor) error) error {
	return m.WithLock(ctx, key, func(ctx context.Context) error {
		state, err := m.load(ctx, key)
		if err != nil {
			return err
		}
		return fn(ctx, &Cursor{m: m, held: ctx, state: state})
	})
}

// WithLock executes a function while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	entry := m.acquire(key)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(key)
	}()

	if m.locker != nil {
		held, unlock, err := m.locker.Lock(ctx, key, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		unlockCtx := context.WithoutCancel(ctx)
		ctx = held
		defer func() {
			// Release even if the caller's context is already canceled.
			if err := unlock(unlockCtx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_key", key,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Cursor is an exclusive handle on one session, valid inside Manager.Exclusive.
type Cursor struct {
	m     *Manager
	held  context.Context
	state *domain.SessionState
}

// Key returns the session key.
func (c *Cursor) Key() string {
	return c.state.Key
}

// State returns a copy of the current state.
func (c *Cursor) State() *domain.SessionState {
	return c.state.Snapshot()
}

// Snapshot returns a copy of the ordered session log.
func (c *Cursor) Snapshot() []domain.Message {
	return domain.CloneMessages(c.state.Messages)
}

// Append adds messages to the log and records steps, then persists the state.
// On a store failure the in-memory state is left unchanged. Once the session
// lock is lost every append fails.
func (c *Cursor) Append(ctx context.Context, steps int, msgs ...domain.Message) error {
	if cause := context.Cause(c.held); errors.Is(cause, ports.ErrLockLost) {
		return fmt.Errorf("failed to checkpoint session %s: %w", c.state.Key, cause)
	}

	next := c.state.Snapshot()
	for _, msg := range msgs {
		next.Messages = append(next.Messages, msg.Clone())
	}
	next.StepCount = steps
	next.UpdatedAt = c.m.now()

	if err := c.m.store.Save(ctx, next.Key, next); err != nil {
		return fmt.Errorf("failed to checkpoint session %s: %w", next.Key, err)
	}
	next.Base = len(next.Messages)
	c.state = next
	return nil
}
