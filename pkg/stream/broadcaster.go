package stream

import (
	"log/slog"
	"sync"

	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/pkg/domain"
)

// SubscriberBuffer is the number of events a watcher may lag behind before
// further events are dropped for it.
const SubscriberBuffer = 32

// Broadcaster fans out events of a session to passive watchers.
// Publishing never blocks: a slow watcher loses events instead.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan domain.Event]struct{}
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. A nil logger discards diagnostics.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[chan domain.Event]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a watcher for the session. The returned function
// unsubscribes and closes the channel.
func (b *Broadcaster) Subscribe(sessionKey string) (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Event, SubscriberBuffer)
	if _, ok := b.subscribers[sessionKey]; !ok {
		b.subscribers[sessionKey] = make(map[chan domain.Event]struct{})
	}
	b.subscribers[sessionKey][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.subscribers[sessionKey]; ok {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(b.subscribers, sessionKey)
				}
			}
		})
	}
}

// Publish delivers the event to every watcher of its session.
func (b *Broadcaster) Publish(event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[event.SessionKey] {
		select {
		case ch <- event:
		default:
			b.logger.Warn("Watcher buffer full, dropping event",
				"session_key", event.SessionKey,
				"type", event.Type,
			)
		}
	}
}

// Watchers returns the number of watchers of a session.
func (b *Broadcaster) Watchers(sessionKey string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionKey])
}
