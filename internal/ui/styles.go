package ui

import (
	"fmt"
	"os"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent  = 74  // blue
	colorBackend = 114 // green
	colorNATS    = 176 // magenta
	colorHTTP    = 179 // yellow
	colorError   = 203 // red
	colorMuted   = 245 // medium gray
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderError returns s in red.
func RenderError(s string) string { return paint(colorError, s) }

// RenderSource colors an event source tag so events from different origins
// are easy to tell apart in `relayd watch`.
func RenderSource(source string) string {
	switch source {
	case "frontend":
		return paint(colorAccent, source)
	case "backend":
		return paint(colorBackend, source)
	case "nats":
		return paint(colorNATS, source)
	case "http":
		return paint(colorHTTP, source)
	default:
		return RenderMuted(source)
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// Setup disables color unless ShouldUseColor allows it.
func Setup() {
	if !ShouldUseColor(os.Stdout) {
		ForceNoColor()
	}
}
