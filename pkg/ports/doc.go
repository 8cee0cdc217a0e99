/*
Package ports defines the driven ports (interfaces) of the relay engine.

These interfaces decouple the orchestration core from external implementations,
allowing the engine to work with any coordinator or worker backend and with
various checkpoint storage backends.

# Key Interfaces

  - Capability: A coordinator or worker that turns a task and a log view into a message.
  - CheckpointStore: Responsible for persisting and loading SessionState.
  - DistributedLocker: Provides distributed locking for concurrent session access.
  - Orchestrator: The driving surface used by transport adapters (HTTP, MCP, CLI).
*/
package ports
