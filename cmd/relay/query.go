package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/relay/internal/cli"
	"github.com/aretw0/relay/internal/presentation/tui"
)

var queryCmd = &cobra.Command{
	Use:   "query <text>...",
	Short: "Run one query and print the answer",
	Long: `Submits the query to the coordinator and prints the final answer.
With --stream every message is printed as it is appended to the session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, _, err := buildRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		stream, _ := cmd.Flags().GetBool("stream")
		jsonOut, _ := cmd.Flags().GetBool("json")
		session, _ := cmd.Flags().GetString("session")
		maxSteps, _ := cmd.Flags().GetInt("max-steps")

		sig := cli.NewSignalContext(context.Background())
		defer sig.Cancel()

		return cli.RunQuery(sig, rt.Engine, cli.QueryOptions{
			Query:       strings.Join(args, " "),
			SessionID:   session,
			MaxSteps:    maxSteps,
			Stream:      stream,
			JSON:        jsonOut,
			Interactive: !jsonOut && tui.IsTerminal(os.Stdout),
		}, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().Bool("stream", false, "Print events as they happen")
	queryCmd.Flags().Bool("json", false, "Print JSON (the report, or one event per line with --stream)")
	queryCmd.Flags().StringP("session", "s", "", "Continue an existing session")
	queryCmd.Flags().Int("max-steps", 0, "Step budget for this query (1-50, default from config)")
}
