package runtime

import (
	"time"

	"github.com/aretw0/relay/pkg/domain"
)

// Execution is the in-flight state of one query against a session.
type Execution struct {
	SessionKey string
	Query      string
	MaxSteps   int

	Phase domain.Phase
	Steps int
	Err   error

	// Log is the full conversation as the coordinator sees it.
	Log []domain.Message

	base    int
	batch   []domain.HandoffRequest
	next    int
	started time.Time
}

// NewExecution prepares an execution on top of the existing session log.
func NewExecution(sessionKey, query string, maxSteps int, history []domain.Message) *Execution {
	return &Execution{
		SessionKey: sessionKey,
		Query:      query,
		MaxSteps:   maxSteps,
		Phase:      domain.PhaseStart,
		Log:        domain.CloneMessages(history),
		base:       len(history),
		started:    time.Now(),
	}
}

// Appended returns the messages added by this execution, starting at the user turn.
func (x *Execution) Appended() []domain.Message {
	return x.Log[x.base:]
}

// Pending returns the requests of the current batch not yet served.
func (x *Execution) Pending() []domain.HandoffRequest {
	if x.next >= len(x.batch) {
		return nil
	}
	return x.batch[x.next:]
}

// Elapsed is the wall time since the execution was created.
func (x *Execution) Elapsed() time.Duration {
	return time.Since(x.started)
}

// Report summarizes a finished execution.
func (x *Execution) Report() *domain.Report {
	r := domain.Summarize(x.Appended())
	r.SessionKey = x.SessionKey
	r.Steps = x.Steps
	r.Elapsed = x.Elapsed()
	r.ElapsedMillis = r.Elapsed.Milliseconds()
	return &r
}

func (x *Execution) append(t *domain.Transition, msgs ...domain.Message) {
	for _, m := range msgs {
		x.Log = append(x.Log, m)
		t.Appended = append(t.Appended, m.Clone())
	}
}
