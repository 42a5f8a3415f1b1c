package ui

import (
	"strings"
	"testing"
)

func TestRenderSource(t *testing.T) {
	old := noColor
	t.Cleanup(func() { noColor = old })

	noColor = false
	if got := RenderSource("backend"); !strings.Contains(got, "\x1b[38;5;114m") {
		t.Errorf("backend = %q", got)
	}
	if RenderSource("frontend") == RenderSource("nats") {
		t.Error("frontend and nats share a color")
	}

	ForceNoColor()
	for _, s := range []string{"frontend", "backend", "nats", "http", "other"} {
		if got := RenderSource(s); got != s {
			t.Errorf("RenderSource(%q) with color disabled = %q", s, got)
		}
	}
	if RenderError("x") != "x" {
		t.Error("RenderError should be plain with color disabled")
	}
}

func TestShouldUseColor_Env(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	if ShouldUseColor(nil) {
		t.Error("NO_COLOR should disable color")
	}
	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR_FORCE", "1")
	if !ShouldUseColor(nil) {
		t.Error("CLICOLOR_FORCE should force color")
	}
}

func TestWidth_NotATerminal(t *testing.T) {
	if got := Width(nil, 80); got != 80 {
		t.Errorf("Width(nil) = %d", got)
	}
}
