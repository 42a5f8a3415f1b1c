package relay

import (
	"errors"
	"fmt"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrorKind classifies connection failures.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindTCPBindFailed
	KindTCPAcceptFailed
	KindTCPSetNoDelayFailed
	KindHandshakeTimeout
	KindHandshakeFailed
	KindAuthenticationFailed
	KindInvalidMessage
	KindMessageParse
	KindSerialization
	KindSend
	KindReceive
	KindProtocol
	KindChannelClosed
	KindIdleTimeout
)

var kindNames = [...]string{
	KindUnknown:              "Unknown",
	KindTCPBindFailed:        "TcpBindFailed",
	KindTCPAcceptFailed:      "TcpAcceptFailed",
	KindTCPSetNoDelayFailed:  "TcpSetNodelayFailed",
	KindHandshakeTimeout:     "HandshakeTimeout",
	KindHandshakeFailed:      "HandshakeFailed",
	KindAuthenticationFailed: "AuthenticationFailed",
	KindInvalidMessage:       "InvalidMessage",
	KindMessageParse:         "MessageParseError",
	KindSerialization:        "SerializationError",
	KindSend:                 "SendError",
	KindReceive:              "ReceiveError",
	KindProtocol:             "ProtocolError",
	KindChannelClosed:        "ChannelClosed",
	KindIdleTimeout:          "IdleTimeout",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// MarshalText renders the kind by name in JSON reports.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ConnError is a classified connection failure. Match it with errors.As.
type ConnError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func newConnError(kind ErrorKind, msg string, err error) *ConnError {
	return &ConnError{Kind: kind, Msg: msg, Err: err}
}

func (e *ConnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *ConnError) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var ce *ConnError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

var errMessageTooLarge = errors.New("message exceeds size limit")

// classifyReadError maps a frame read failure onto the taxonomy.
func classifyReadError(err error) *ConnError {
	var pe ws.ProtocolError
	switch {
	case errors.As(err, &pe),
		errors.Is(err, wsutil.ErrFrameTooLarge),
		errors.Is(err, errMessageTooLarge):
		return newConnError(KindProtocol, "protocol violation", err)
	case errors.Is(err, net.ErrClosed):
		return newConnError(KindChannelClosed, "connection closed locally", err)
	default:
		return newConnError(KindReceive, "read frame", err)
	}
}
