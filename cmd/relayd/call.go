package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/relay/internal/client"
)

var callCmd = &cobra.Command{
	Use:   "call <name> [payload]",
	Short: "Invoke a backend function over the relay and print the reply",
	Example: `  relayd call get_users
  relayd call window_state_change '{"id":"main","action":"focused"}'`,
	GroupID: "client",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		var payload json.RawMessage
		if len(args) == 2 {
			payload = parsePayload(args[1])
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		c, err := client.Dial(ctx, wsURL, nil)
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.Call(ctx, args[0], payload)
		if err != nil {
			return fmt.Errorf("calling %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), reply)
		}
		var pretty any
		if err := json.Unmarshal(reply.Payload, &pretty); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), string(reply.Payload))
			return nil
		}
		return printJSON(cmd.OutOrStdout(), pretty)
	},
}

func init() {
	callCmd.Flags().Duration("timeout", 10*time.Second, "how long to wait for the reply")
}
