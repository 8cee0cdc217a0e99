package domain

// Phase is a state of the executor.
type Phase string

const (
	PhaseStart       Phase = "start"
	PhaseCoordinator Phase = "coordinator"
	PhaseWorker      Phase = "worker"
	PhaseDone        Phase = "done"
	PhaseAborted     Phase = "aborted"
)

// Terminal reports whether no further step can be taken from the phase.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseAborted
}

// Transition is the outcome of one executor step.
type Transition struct {
	SessionKey string
	From       Phase
	To         Phase

	// Worker is the target when To is PhaseWorker.
	Worker string

	// Step is the counted step number after the transition.
	Step int

	// Appended holds the messages this step added to the log, in order.
	Appended []Message

	// Err is set when To is PhaseAborted.
	Err error
}
