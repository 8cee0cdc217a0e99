package loam

// WorkerMetadata is the frontmatter of a worker document.
// The document body is used as the description when none is given.
type WorkerMetadata struct {
	ID          string   `json:"id" mapstructure:"id"`
	Kind        string   `json:"kind" mapstructure:"kind"`
	Description string   `json:"description" mapstructure:"description"`
	Tool        string   `json:"tool" mapstructure:"tool"`
	URL         string   `json:"url" mapstructure:"url"`
	Content     string   `json:"content" mapstructure:"content"`
	Keywords    []string `json:"keywords" mapstructure:"keywords"`
	Fallback    bool     `json:"fallback" mapstructure:"fallback"`

	// Timeout bounds each invocation (e.g. "30s").
	Timeout string `json:"timeout,omitempty" mapstructure:"timeout"`
}
