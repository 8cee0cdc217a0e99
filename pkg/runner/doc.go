/*
Package runner drives executions of the relay engine against persisted sessions.

It acts as the bridge between the core state machine (internal/runtime) and the
outside world. For each query the runner holds the session exclusively, steps the
engine until DONE or ABORTED, checkpoints every transition, and projects it into
the event stream.

# Modes

  - Blocking: Run with a nil Emitter returns the report once the execution ends.
  - Incremental: Run with an Emitter receives thread-started, message, done and
    error events as transitions happen.

# Usage

	r := runner.NewRunner(engine, sessions, runner.WithLogger(logger))

	report, err := r.Run(ctx, domain.Request{Query: "What is new?"}, nil)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(report.Answer)
*/
package runner
