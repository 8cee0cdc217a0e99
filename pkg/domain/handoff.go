package domain

import (
	"fmt"
	"strings"
)

// HandoffRequest is a delegation from the coordinator to one worker.
// It is produced only by a coordinator turn and consumed exactly once.
type HandoffRequest struct {
	TargetWorker    string `json:"target_worker" mapstructure:"target_worker"`
	TaskDescription string `json:"task_description" mapstructure:"task_description"`
	RequestID       string `json:"request_id" mapstructure:"request_id"`
}

// Validate checks the request fields that do not depend on the registry.
func (r HandoffRequest) Validate() error {
	if strings.TrimSpace(r.TargetWorker) == "" {
		return &ProtocolError{Reason: ErrUnknownWorker, RequestID: r.RequestID}
	}
	if strings.TrimSpace(r.TaskDescription) == "" {
		return &ProtocolError{Reason: ErrEmptyTask, Worker: r.TargetWorker, RequestID: r.RequestID}
	}
	return nil
}

// HandoffToolName returns the tool name a model calls to reach the worker.
func HandoffToolName(worker string) string {
	return HandoffToolPrefix + worker
}

// WorkerFromToolName extracts the worker id from a handoff tool name.
func WorkerFromToolName(name string) (string, bool) {
	worker, ok := strings.CutPrefix(name, HandoffToolPrefix)
	if !ok || worker == "" {
		return "", false
	}
	return worker, true
}

// ScopedView returns a deep copy of the log as seen by the worker serving requestID.
// Requests of the same batch other than requestID are hidden from the coordinator
// turn that emitted them.
func ScopedView(log []Message, requestID string) []Message {
	view := CloneMessages(log)
	for i := len(view) - 1; i >= 0; i-- {
		if view[i].Role != RoleAssistant || len(view[i].PendingCalls) == 0 {
			continue
		}
		kept := view[i].PendingCalls[:0]
		found := false
		for _, call := range view[i].PendingCalls {
			if call.RequestID == requestID {
				kept = append(kept, call)
				found = true
			}
		}
		if found {
			view[i].PendingCalls = kept
			break
		}
	}
	return view
}

// Unresolved returns the requests of the latest coordinator batch that have no
// correlated tool result in the log, in request order.
func Unresolved(log []Message) []HandoffRequest {
	batch := -1
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Role == RoleAssistant {
			batch = i
			break
		}
	}
	if batch < 0 || len(log[batch].PendingCalls) == 0 {
		return nil
	}

	resolved := make(map[string]bool)
	for _, m := range log[batch+1:] {
		if m.Role == RoleTool {
			resolved[m.RequestID] = true
		}
	}

	var open []HandoffRequest
	for _, call := range log[batch].PendingCalls {
		if !resolved[call.RequestID] {
			open = append(open, call)
		}
	}
	return open
}

func (r HandoffRequest) String() string {
	return fmt.Sprintf("%s(%s)", HandoffToolName(r.TargetWorker), r.RequestID)
}
