/*
Package session implements session management and checkpoint orchestration.

It serializes executions against the same session key, keeps the conversation log
append-only, and records the step count in the same write as the messages of each
step. Locks are held in memory per key and, when a DistributedLocker is configured,
across replicas as well.
*/
package session
