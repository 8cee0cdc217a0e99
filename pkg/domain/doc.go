/*
Package domain contains the core domain models of the relay orchestration engine.

It defines the conversation log shared by a coordinator and its workers, the
handoff requests the coordinator emits, the per-session checkpoint state and the
events projected to streaming consumers. This package is kept pure and free of
external dependencies like I/O or persistence, following Hexagonal Architecture
principles.

# Key Entities

  - Message: One entry of the append-only conversation log (user, assistant or tool turn).
  - HandoffRequest: A structured delegation from the coordinator to a named worker.
  - SessionState: The persisted snapshot of a session (ordered messages and step count).
  - Transition: The outcome of one executor step, with the messages it appended.
  - Event: The externally visible projection of a transition.
*/
package domain
