package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/relay/internal/client"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show live connections and tracked windows",
	GroupID: "server",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewHTTPClient(httpURL)
		ctx := cmd.Context()

		h, err := c.Health(ctx)
		if err != nil {
			return err
		}
		conns, err := c.Connections(ctx)
		if err != nil {
			return err
		}
		wins, err := c.Windows(ctx)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"health":      h,
				"connections": conns,
				"windows":     wins,
			})
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Status: %s  uptime %s  listeners %d\n\n", h.Status, h.Uptime, h.Listeners)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CONNECTION\tREMOTE\tPHASE\tAGE")
		for _, conn := range conns {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", conn.ID, conn.RemoteAddr, conn.Phase,
				time.Since(conn.ConnectedAt).Round(time.Second))
		}
		w.Flush()

		if len(wins) > 0 {
			fmt.Fprintln(out)
			w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WINDOW\tTITLE\tSTATUS")
			for _, win := range wins {
				fmt.Fprintf(w, "%s\t%s\t%s\n", win.ID, win.Title, win.Status)
			}
			w.Flush()
		}
		return nil
	},
}
