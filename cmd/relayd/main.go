package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/relay/internal/ui"
)

var (
	wsURL      string
	httpURL    string
	grpcAddr   string
	jsonOutput bool
)

func envOr(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

var rootCmd = &cobra.Command{
	Use:           "relayd <command>",
	Short:         "WebSocket event relay between frontends and the backend event bus",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Setup()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws-url", envOr("RELAY_WS_URL", "ws://127.0.0.1:9000/"), "relay WebSocket URL")
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", envOr("RELAY_HTTP_URL", "http://127.0.0.1:8080"), "admin HTTP URL")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc-addr", envOr("RELAY_GRPC_TARGET", "127.0.0.1:9090"), "admin gRPC address")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "client", Title: "Client:"},
	)
	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(emitCmd)
}

// newLogger builds the process logger from RELAY_LOG_LEVEL and
// RELAY_LOG_FORMAT values.
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.RenderError("Error: ")+err.Error())
		os.Exit(1)
	}
}
