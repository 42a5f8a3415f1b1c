package model

import "encoding/json"

// WireMessage is the JSON frame exchanged with clients in both directions.
// It carries the same fields as Event.
type WireMessage struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp uint64          `json:"timestamp"`
	Source    string          `json:"source"`
}

// WireFromEvent converts a bus event to its wire form.
func WireFromEvent(e Event) WireMessage {
	return WireMessage(e)
}

// Event converts the wire form back to a bus event.
func (m WireMessage) Event() Event {
	return Event(m)
}

// Wire error types sent in WireError.ErrorType.
const (
	ErrTypeJSONParse   = "JSON_PARSE_ERROR"
	ErrTypeBinaryParse = "BINARY_PARSE_ERROR"
	ErrTypeUTF8Decode  = "UTF8_DECODE_ERROR"
	ErrTypeInvalid     = "INVALID_MESSAGE"
	ErrTypeProtocol    = "PROTOCOL_ERROR"
)

// WireError is sent to a client when one of its frames cannot be processed.
type WireError struct {
	ID        string          `json:"id"`
	ErrorType string          `json:"error_type"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details"`
	Timestamp uint64          `json:"timestamp"`
}
