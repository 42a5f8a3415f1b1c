package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/relay/internal/client"
	"github.com/alfredjeanlab/relay/internal/events"
	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print events relayed to frontends as they arrive",
	Long: `Connects to the relay as a frontend and prints every event it relays.

With --nats the relay is bypassed and events are read straight from the NATS
bridge subjects, which includes events published by other relay processes.`,
	GroupID: "client",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		topics, _ := cmd.Flags().GetStringSlice("topics")
		natsURL, _ := cmd.Flags().GetString("nats")
		prefix, _ := cmd.Flags().GetString("prefix")

		if w := ui.Width(os.Stdout, 0); w > 0 {
			maxPayload = max(w-50, 20)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if natsURL != "" {
			return watchNATS(ctx, cmd, natsURL, prefix, topics)
		}
		return watchRelay(ctx, cmd, topics)
	},
}

func init() {
	watchCmd.Flags().StringSlice("topics", nil, "only print events whose name starts with one of these prefixes")
	watchCmd.Flags().String("nats", os.Getenv("RELAY_NATS_URL"), "read from NATS instead of the relay")
	watchCmd.Flags().String("prefix", events.DefaultPrefix, "NATS subject prefix")
}

func matchesAny(name string, topics []string) bool {
	if len(topics) == 0 {
		return true
	}
	for _, t := range topics {
		if strings.HasPrefix(name, t) {
			return true
		}
	}
	return false
}

func watchRelay(ctx context.Context, cmd *cobra.Command, topics []string) error {
	c, err := client.Dial(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-c.Frames():
			if !ok {
				if err := c.Err(); err != nil && err != client.ErrClosed {
					return fmt.Errorf("relay connection ended: %w", err)
				}
				return nil
			}
			if f.Message != nil && !matchesAny(f.Message.Name, topics) {
				continue
			}
			if err := printFrame(out, f); err != nil {
				return err
			}
		}
	}
}

func watchNATS(ctx context.Context, cmd *cobra.Command, url, prefix string, topics []string) error {
	sub, err := events.NewNATSSubscriber(url,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats: disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats: reconnected")
		}),
	)
	if err != nil {
		return err
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(prefix + ".>")
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if !matchesAny(e.Name, topics) {
				continue
			}
			m := model.WireFromEvent(e)
			if err := printFrame(out, client.Frame{Message: &m}); err != nil {
				return err
			}
		}
	}
}
