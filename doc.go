/*
Package relay is a coordinator/worker orchestration core.

A coordinator capability decides, turn by turn, whether to answer a query or to
delegate work to registered workers through handoff requests. The engine
executes that alternation as a bounded state machine, appends every produced
message to a durable per-session log, and projects each transition into a
stream of events.

# Concept

A session is an append-only conversation log identified by a key. An execution
answers one query against a session: it enters the coordinator, serves the
requested handoffs one worker at a time, returns to the coordinator, and ends
when the coordinator produces a final answer or the step budget (max_steps) is
exhausted. Worker failures are recorded as fault results and the coordinator
decides what to do next; coordinator failures and protocol violations abort.

# Usage

	reg := registry.NewRegistry()
	reg.MustRegister("web", "Searches the public web.", webWorker)
	reg.MustRegister("docs", "Searches local documents.", docsWorker)

	eng, err := relay.New(coordinator, reg,
		relay.WithStore(redisStore),
		relay.WithMaxSteps(10),
	)
	if err != nil {
		log.Fatal(err)
	}

	report, err := eng.Submit(ctx, domain.Request{Query: "What changed in the travel policy?"})

Stream delivers the same execution as events (thread-started, message, done or
error) to an emitter, and Watch lets passive observers follow a session.

# Adapters

Checkpoint stores live under pkg/adapters (memory, file, redis, sqlite) and can
be wrapped with pkg/persistence/middleware for encryption and redaction at rest.
pkg/adapters/http exposes the engine as a REST and SSE API, pkg/adapters/mcp as
MCP tools.
*/
package relay
