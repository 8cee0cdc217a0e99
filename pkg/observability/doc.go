/*
Package observability provides lifecycle hooks for monitoring the executor.

Metrics records Prometheus counters and histograms for steps, handoffs and
executions. LogHooks writes the same events to a structured logger. Combine
merges several hook sets into one.
*/
package observability
