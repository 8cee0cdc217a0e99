package domain

import (
	"strings"
	"time"
)

// Request is one query submitted against a session.
type Request struct {
	Query      string `json:"query"`
	SessionKey string `json:"session_key,omitempty"`
	MaxSteps   int    `json:"max_steps,omitempty"`
}

// WorkerResult is the reported excerpt of one worker contribution.
type WorkerResult struct {
	Worker    string    `json:"worker"`
	RequestID string    `json:"request_id"`
	Excerpt   string    `json:"excerpt"`
	Fault     FaultKind `json:"fault,omitempty"`
}

// Report is the outcome of a completed execution.
type Report struct {
	Answer        string         `json:"answer"`
	WorkersUsed   []string       `json:"workers_used"`
	WorkerResults []WorkerResult `json:"worker_results"`
	SessionKey    string         `json:"session_key"`
	Steps         int            `json:"steps"`
	Elapsed       time.Duration  `json:"-"`
	ElapsedMillis int64          `json:"elapsed_ms"`
}

// NoAnswer is reported when an execution produced neither a coordinator answer
// nor any worker result.
const NoAnswer = "No response generated"

// Summarize builds the report fields from the messages appended by one execution.
//
// The answer is the content of the last assistant message with non-empty content.
// When there is none, the most recent worker result is used instead.
func Summarize(appended []Message) Report {
	r := Report{WorkersUsed: []string{}, WorkerResults: []WorkerResult{}}
	seen := make(map[string]bool)
	lastWorker := ""

	for _, m := range appended {
		switch m.Role {
		case RoleAssistant:
			if strings.TrimSpace(m.Content) != "" {
				r.Answer = m.Content
			}
		case RoleTool:
			if !seen[m.Producer] {
				seen[m.Producer] = true
				r.WorkersUsed = append(r.WorkersUsed, m.Producer)
			}
			wr := WorkerResult{Worker: m.Producer, RequestID: m.RequestID, Excerpt: Excerpt(m.Content, ExcerptLength)}
			if m.Fault != nil {
				wr.Fault = m.Fault.Kind
			}
			r.WorkerResults = append(r.WorkerResults, wr)
			lastWorker = m.Content
		}
	}

	if r.Answer == "" {
		r.Answer = lastWorker
	}
	if r.Answer == "" {
		r.Answer = NoAnswer
	}
	return r
}

// Excerpt truncates s to n characters, marking the cut with "...".
func Excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
