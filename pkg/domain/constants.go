package domain

const (
	// CoordinatorID is the producer name stamped on coordinator turns.
	CoordinatorID = "coordinator"

	// HandoffToolPrefix prefixes the tool name a model uses to delegate to a worker,
	// e.g. "transfer_to_web_search_agent".
	HandoffToolPrefix = "transfer_to_"

	// KeyTaskDescription is the argument name of a handoff tool call.
	KeyTaskDescription = "task_description"

	// DefaultMaxSteps is applied when a request does not carry a step budget.
	DefaultMaxSteps = 10

	// MaxStepsLimit is the largest step budget a request may ask for.
	MaxStepsLimit = 50

	// ExcerptLength is the number of characters kept in a reported worker result.
	ExcerptLength = 500
)
