// Package events bridges the in-process event bus onto NATS so several relay
// processes, and external tools, share one event stream.
//
// Every bus event that did not itself arrive from NATS is published as JSON
// on "<prefix>.<event name>". Messages received on "<prefix>.>" are emitted
// on the local bus with source "nats", which lets the connection loops relay
// them to frontends without ever republishing them.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "relay.events"

// Connect dials NATS with automatic reconnection. NoEcho keeps a process from
// receiving its own publications. Extra options are appended.
func Connect(url string, opts ...nats.Option) (*nats.Conn, error) {
	defaults := []nats.Option{
		nats.Name("relayd"),
		nats.NoEcho(),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

var subjectReplacer = strings.NewReplacer(" ", "_", "*", "_", ">", "_", "\t", "_")

// Subject returns the NATS subject an event name is published on.
func Subject(prefix, name string) string {
	if name == "" {
		name = "_"
	}
	return prefix + "." + subjectReplacer.Replace(name)
}
