package capability

import (
	"context"
	"fmt"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
)

// StubLabel prefixes every placeholder result.
const StubLabel = "[STUB]"

// Stub returns a worker that answers with a labelled placeholder.
// It stands in for integrations that are not configured yet.
func Stub(worker string) ports.Capability {
	return ports.CapabilityFunc(func(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
		content := fmt.Sprintf("%s %s received task '%s'.\nThis is a placeholder. Configure a backend for this worker.",
			StubLabel, worker, task)
		return domain.Message{Role: domain.RoleTool, Producer: worker, Content: content}, nil
	})
}

// Static returns a worker that always answers with content.
func Static(worker, content string) ports.Capability {
	return ports.CapabilityFunc(func(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
		return domain.Message{Role: domain.RoleTool, Producer: worker, Content: content}, nil
	})
}
