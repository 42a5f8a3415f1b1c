package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/relay/internal/idgen"
)

// Origin tags carried in Event.Source.
const (
	SourceFrontend = "frontend"
	SourceBackend  = "backend"
	SourceNATS     = "nats"
	SourceHTTP     = "http"
)

// Event is a named, timestamped, sourced payload carried on the bus and
// relayed to connected clients.
type Event struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp uint64          `json:"timestamp"`
	Source    string          `json:"source"`
}

// NewEvent builds an event with a fresh ID and the current time. A nil
// payload is stored as JSON null.
func NewEvent(name string, payload json.RawMessage, source string) (Event, error) {
	id, err := idgen.Event()
	if err != nil {
		return Event{}, fmt.Errorf("new event %s: %w", name, err)
	}
	if payload == nil {
		payload = json.RawMessage("null")
	}
	return Event{
		ID:        id,
		Name:      name,
		Payload:   payload,
		Timestamp: NowMillis(),
		Source:    source,
	}, nil
}

// NewEventFrom marshals v as the payload of a new event.
func NewEventFrom(name string, v any, source string) (Event, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return NewEvent(name, raw, source)
}

// NowMillis returns the current wall-clock time in milliseconds since the epoch.
func NowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}
