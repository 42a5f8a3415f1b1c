package relay

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/gobwas/ws"

	"github.com/alfredjeanlab/relay/internal/model"
)

// rawPreviewLen bounds how much of a malformed frame is echoed back.
const rawPreviewLen = 200

// decodeMessage parses one data frame. A non-nil WireError means the frame
// was malformed and should be answered with that error.
func decodeMessage(op ws.OpCode, data []byte) (model.WireMessage, *model.WireError) {
	if !utf8.Valid(data) {
		return model.WireMessage{}, newWireError("utf8_error", model.ErrTypeUTF8Decode,
			"Frame data is not valid UTF-8", map[string]any{
				"decode_error": fmt.Sprintf("invalid UTF-8 sequence at byte %d", invalidUTF8Offset(data)),
			})
	}

	var msg model.WireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		if op == ws.OpBinary {
			return model.WireMessage{}, newWireError("binary_parse_error", model.ErrTypeBinaryParse,
				"Invalid binary data format", map[string]any{
					"binary_length": len(data),
					"parse_error":   err.Error(),
				})
		}
		return model.WireMessage{}, newWireError("parse_error", model.ErrTypeJSONParse,
			"Invalid JSON format", map[string]any{
				"raw_message": preview(string(data)),
				"parse_error": err.Error(),
			})
	}

	var missing []string
	if msg.ID == "" {
		missing = append(missing, "id")
	}
	if msg.Name == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return model.WireMessage{}, newWireError("invalid_message", model.ErrTypeInvalid,
			"Message must include id and name", map[string]any{"missing": missing})
	}
	if msg.Payload == nil {
		msg.Payload = json.RawMessage("null")
	}
	return msg, nil
}

func newWireError(id, errType, message string, details map[string]any) *model.WireError {
	we := &model.WireError{ID: id, ErrorType: errType, Message: message}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			we.Details = raw
		}
	}
	return we
}

func protocolWireError(err error) *model.WireError {
	return newWireError("protocol_error", model.ErrTypeProtocol,
		"WebSocket protocol error", map[string]any{"error": err.Error()})
}

// unknownFunction is the soft-fail reply for names no executor recognizes.
func unknownFunction(name string) json.RawMessage {
	raw, _ := json.Marshal(struct {
		Success  bool   `json:"success"`
		Error    string `json:"error"`
		Function string `json:"function"`
	}{
		Error:    "Unknown function: " + name,
		Function: name,
	})
	return raw
}

func preview(s string) string {
	n := 0
	for i := range s {
		if n == rawPreviewLen {
			return s[:i]
		}
		n++
	}
	return s
}

func invalidUTF8Offset(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(b)
}
