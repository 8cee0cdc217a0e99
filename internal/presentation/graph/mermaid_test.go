package graph_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aretw0/relay/internal/presentation/graph"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
)

func TestGenerateMermaid(t *testing.T) {
	workers := []ports.WorkerInfo{
		{ID: "web-search"},
		{ID: "docs"},
	}

	tests := []struct {
		name     string
		coord    string
		overlay  *graph.GraphOverlay
		contains []string
		excludes []string
	}{
		{
			name: "Shapes And Edges",
			contains: []string{
				"graph TD\n",
				`coordinator{{"coordinator"}}`,
				`web_search[["web-search"]]`,
				`coordinator -- "transfer_to_web-search" --> web_search`,
				"web_search -.-> coordinator",
				`coordinator -- "answer" --> __done`,
			},
			excludes: []string{"classDef"},
		},
		{
			name:     "Custom Coordinator",
			coord:    "supervisor.v2",
			contains: []string{`supervisor_v2{{"supervisor.v2"}}`, "__start --> supervisor_v2"},
		},
		{
			name:    "Overlay",
			overlay: &graph.GraphOverlay{VisitedNodes: []string{"coordinator", "docs", "docs"}, CurrentNode: "web-search"},
			contains: []string{
				"classDef visited",
				"class coordinator visited;",
				"class web_search current;",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(tt.coord, workers, tt.overlay)
			for _, s := range tt.contains {
				assert.Contains(t, got, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, got, s)
			}
			if tt.overlay != nil {
				assert.Equal(t, 1, strings.Count(got, "class docs visited;"), "visited nodes are deduplicated")
			}
		})
	}
}

func TestOverlayFromLog(t *testing.T) {
	log := []domain.Message{
		domain.NewUserMessage("q"),
		domain.NewAssistantMessage(domain.CoordinatorID, "", domain.HandoffRequest{TargetWorker: "docs", TaskDescription: "t", RequestID: "r"}),
		domain.NewToolResult("docs", "r", "ok"),
		domain.NewAssistantMessage(domain.CoordinatorID, "done"),
	}

	overlay := graph.OverlayFromLog(log)
	assert.Equal(t, []string{domain.CoordinatorID, "docs"}, overlay.VisitedNodes)
	assert.Equal(t, domain.CoordinatorID, overlay.CurrentNode)
}
