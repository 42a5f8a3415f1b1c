package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/relay/internal/client"
	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/ui"
)

// maxPayload truncates payloads in line output; 0 disables truncation.
var maxPayload int

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// parsePayload accepts a JSON argument; anything that is not valid JSON is
// sent as a string.
func parsePayload(arg string) json.RawMessage {
	if arg == "" {
		return nil
	}
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	raw, _ := json.Marshal(arg)
	return raw
}

func formatStamp(ms uint64) string {
	if ms == 0 {
		return "--:--:--.---"
	}
	return time.UnixMilli(int64(ms)).Format("15:04:05.000")
}

// formatMessage renders one relayed event on a single line.
func formatMessage(m model.WireMessage) string {
	payload := string(m.Payload)
	if payload == "" {
		payload = "null"
	}
	return fmt.Sprintf("%s %s %s %s",
		ui.RenderMuted(formatStamp(m.Timestamp)),
		ui.RenderSource(fmt.Sprintf("%-8s", m.Source)),
		ui.RenderAccent(m.Name),
		truncate(payload, maxPayload),
	)
}

func formatWireError(e model.WireError) string {
	return fmt.Sprintf("%s %s %s: %s",
		ui.RenderMuted(formatStamp(e.Timestamp)),
		ui.RenderError("error   "),
		e.ErrorType,
		e.Message,
	)
}

func printFrame(w io.Writer, f client.Frame) error {
	if jsonOutput {
		if f.Error != nil {
			return printJSONLine(w, f.Error)
		}
		return printJSONLine(w, f.Message)
	}
	if f.Error != nil {
		fmt.Fprintln(w, formatWireError(*f.Error))
		return nil
	}
	fmt.Fprintln(w, formatMessage(*f.Message))
	return nil
}

func printJSONLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}
