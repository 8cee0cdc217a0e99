package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/relay/internal/cli"
	"github.com/aretw0/relay/internal/presentation/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Follow the events of a session on a running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		jsonOut, _ := cmd.Flags().GetBool("json")

		sig := cli.NewSignalContext(context.Background())
		defer sig.Cancel()

		return cli.Watch(sig, cli.WatchOptions{
			Server:      server,
			SessionID:   args[0],
			JSON:        jsonOut,
			Interactive: !jsonOut && tui.IsTerminal(os.Stdout),
		}, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("server", "http://localhost:8080", "Base URL of a running relay server")
	watchCmd.Flags().Bool("json", false, "Print raw event JSON, one per line")
}
