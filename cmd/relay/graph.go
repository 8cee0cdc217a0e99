package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/relay/internal/presentation/graph"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the handoff graph visualization",
	Long: `Outputs a Mermaid flowchart of the coordinator and its workers.
With --session the nodes visited by that session are highlighted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, _, err := buildRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		var overlay *graph.GraphOverlay
		if session, _ := cmd.Flags().GetString("session"); session != "" {
			log, err := rt.Engine.Messages(cmd.Context(), session)
			if err != nil {
				return fmt.Errorf("error loading session '%s': %w", session, err)
			}
			overlay = graph.OverlayFromLog(log)
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid("", rt.Engine.Workers(), overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("session", "s", "", "Highlight the nodes visited by this session")
}
