// Package runtime implements the coordinator/worker state machine.
//
// An Execution moves through START, COORDINATOR and WORKER phases until it
// reaches DONE or ABORTED. Engine.Step performs exactly one phase's work and
// reports the messages it appended; persistence and event delivery belong to
// the caller.
package runtime
