// Package graph renders the coordinator/worker topology as a Mermaid flowchart.
package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
)

// GraphOverlay contains session data to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	CurrentNode  string
}

// OverlayFromLog marks every producer of the log as visited and the last one as current.
func OverlayFromLog(log []domain.Message) *GraphOverlay {
	overlay := &GraphOverlay{}
	seen := make(map[string]bool)
	for _, m := range log {
		if m.Producer == "" {
			continue
		}
		if !seen[m.Producer] {
			seen[m.Producer] = true
			overlay.VisitedNodes = append(overlay.VisitedNodes, m.Producer)
		}
		overlay.CurrentNode = m.Producer
	}
	return overlay
}

// GenerateMermaid produces a Mermaid flowchart of one coordinator delegating to workers.
// Shapes:
// - Start/Done: ((Circle))
// - Coordinator: {{Hexagon}}
// - Worker: [[Subroutine]]
// Handoff edges are labelled with the tool name; returns are dotted.
func GenerateMermaid(coordinatorID string, workers []ports.WorkerInfo, overlay *GraphOverlay) string {
	if coordinatorID == "" {
		coordinatorID = domain.CoordinatorID
	}
	coord := sanitizeMermaidID(coordinatorID)

	var sb strings.Builder
	sb.WriteString("graph TD\n")
	sb.WriteString("    __start((\"start\"))\n")
	sb.WriteString("    __done((\"done\"))\n")
	fmt.Fprintf(&sb, "    %s{{\"%s\"}}\n", coord, coordinatorID)
	fmt.Fprintf(&sb, "    __start --> %s\n", coord)

	for _, w := range workers {
		safeID := sanitizeMermaidID(w.ID)
		fmt.Fprintf(&sb, "    %s[[\"%s\"]]\n", safeID, w.ID)
		fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", coord, domain.HandoffToolName(w.ID), safeID)
		fmt.Fprintf(&sb, "    %s -.-> %s\n", safeID, coord)
	}
	fmt.Fprintf(&sb, "    %s -- \"answer\" --> __done\n", coord)

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}
		if overlay.CurrentNode != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", " ", "_")
	return r.Replace(id)
}
