package domain

import (
	"fmt"
	"time"
)

// SessionState is the persisted snapshot of a session.
type SessionState struct {
	// Key identifies the session across executions.
	Key string `json:"session_key"`

	// Messages is the append-only conversation log, in causal order.
	Messages []Message `json:"messages"`

	// StepCount is the number of counted steps of the current or most recent execution.
	StepCount int `json:"step_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Base is the log length this state was loaded with. Stores set it on Load
	// and refuse a save over a log of any other length.
	Base int `json:"-"`
}

// NewSessionState creates an empty session.
func NewSessionState(key string) *SessionState {
	now := time.Now()
	return &SessionState{
		Key:       key,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Snapshot returns a deep copy of the state.
func (s *SessionState) Snapshot() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = CloneMessages(s.Messages)
	return &out
}

// CheckBase validates a save of s over a stored log holding stored messages.
func (s *SessionState) CheckBase(stored int) error {
	if stored > len(s.Messages) {
		return ErrLogRewrite
	}
	if stored != s.Base {
		return fmt.Errorf("%w: loaded %d messages, store holds %d", ErrConcurrentWrite, s.Base, stored)
	}
	return nil
}

// ExecutionConfig bounds one execution against a session.
type ExecutionConfig struct {
	MaxSteps   int
	SessionKey string
}
