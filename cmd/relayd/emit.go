package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/relay/internal/client"
)

var emitCmd = &cobra.Command{
	Use:     "emit <name> [payload]",
	Short:   "Emit an event on the server's bus through the admin API",
	Example: `  relayd emit data.changed '{"table":"users"}'`,
	GroupID: "client",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		var payload []byte
		if len(args) == 2 {
			payload = parsePayload(args[1])
		}

		e, err := client.NewHTTPClient(httpURL).Emit(cmd.Context(), args[0], payload, source)
		if err != nil {
			return fmt.Errorf("emitting %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), e)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Emitted %s (%s)\n", e.Name, e.ID)
		return nil
	},
}

func init() {
	emitCmd.Flags().String("source", "", "source tag (default http)")
}
