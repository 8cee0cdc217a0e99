package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role tags the variant of a Message.
type Role string

const (
	RoleUser      Role = "user"      // Input from the end user
	RoleAssistant Role = "assistant" // Coordinator turn, possibly carrying handoff requests
	RoleTool      Role = "tool"      // Worker result correlated to one handoff request
)

// FaultKind classifies the error carried by a tool-role message.
type FaultKind string

const (
	FaultRateLimited FaultKind = "rate_limited"
	FaultTimeout     FaultKind = "timeout"
	FaultUpstream    FaultKind = "upstream"
	FaultAbandoned   FaultKind = "abandoned"
)

// Fault marks a worker result as failed. The message stays in the log so the
// coordinator can react to it on its next turn.
type Fault struct {
	Kind       FaultKind     `json:"kind"`
	Detail     string        `json:"detail"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Message is one entry of the conversation log.
//
// The populated fields depend on Role:
//   - RoleUser: Content only.
//   - RoleAssistant: Producer, Content and/or PendingCalls.
//   - RoleTool: Producer (the worker), RequestID and Content, or Fault on failure.
type Message struct {
	Role         Role             `json:"role"`
	Producer     string           `json:"producer,omitempty"`
	Content      string           `json:"content"`
	PendingCalls []HandoffRequest `json:"pending_calls,omitempty"`
	RequestID    string           `json:"request_id,omitempty"`
	Fault        *Fault           `json:"fault,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// NewUserMessage creates a user turn.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, CreatedAt: time.Now()}
}

// NewAssistantMessage creates a coordinator turn.
func NewAssistantMessage(producer, content string, calls ...HandoffRequest) Message {
	return Message{
		Role:         RoleAssistant,
		Producer:     producer,
		Content:      content,
		PendingCalls: calls,
		CreatedAt:    time.Now(),
	}
}

// NewToolResult creates a successful worker result for the given request.
func NewToolResult(worker, requestID, content string) Message {
	return Message{
		Role:      RoleTool,
		Producer:  worker,
		RequestID: requestID,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewToolFault creates a failed worker result for the given request.
func NewToolFault(worker, requestID string, fault Fault) Message {
	return Message{
		Role:      RoleTool,
		Producer:  worker,
		RequestID: requestID,
		Content:   fmt.Sprintf("worker %s failed (%s): %s", worker, fault.Kind, fault.Detail),
		Fault:     &fault,
		CreatedAt: time.Now(),
	}
}

// IsTerminal reports whether an assistant turn ends the execution.
func (m Message) IsTerminal() bool {
	return m.Role == RoleAssistant && len(m.PendingCalls) == 0 && strings.TrimSpace(m.Content) != ""
}

// Failed reports whether a tool result carries a fault.
func (m Message) Failed() bool {
	return m.Fault != nil
}

// Validate checks that the fields populated match the role.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser:
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("%w: user message without content", ErrMalformedMessage)
		}
		if len(m.PendingCalls) > 0 || m.RequestID != "" || m.Fault != nil {
			return fmt.Errorf("%w: user message with tool fields", ErrMalformedMessage)
		}
	case RoleAssistant:
		if len(m.PendingCalls) == 0 && strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("%w: assistant message with neither content nor calls", ErrMalformedMessage)
		}
		if m.RequestID != "" || m.Fault != nil {
			return fmt.Errorf("%w: assistant message with tool fields", ErrMalformedMessage)
		}
	case RoleTool:
		if m.RequestID == "" {
			return fmt.Errorf("%w: tool message without request id", ErrMalformedMessage)
		}
		if m.Producer == "" {
			return fmt.Errorf("%w: tool message without producer", ErrMalformedMessage)
		}
		if len(m.PendingCalls) > 0 {
			return fmt.Errorf("%w: tool message with pending calls", ErrMalformedMessage)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrMalformedMessage, m.Role)
	}
	return nil
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.PendingCalls != nil {
		out.PendingCalls = make([]HandoffRequest, len(m.PendingCalls))
		copy(out.PendingCalls, m.PendingCalls)
	}
	if m.Fault != nil {
		f := *m.Fault
		out.Fault = &f
	}
	return out
}

// CloneMessages deep-copies a slice of messages. A nil input returns an empty slice.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
