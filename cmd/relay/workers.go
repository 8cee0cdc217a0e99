package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List the workers of the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, _, err := buildRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		out := cmd.OutOrStdout()
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rt.Specs)
		}

		if len(rt.Specs) == 0 {
			fmt.Fprintln(out, "No workers registered.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tDESCRIPTION")
		for _, s := range rt.Specs {
			kind := string(s.Kind)
			if kind == "" {
				kind = "stub"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, kind, s.Description)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(workersCmd)
	workersCmd.Flags().Bool("json", false, "Print the worker specs as JSON")
}
