package relay

import "time"

// Stats counts one connection's traffic. It is owned by the connection's
// goroutine and copied into its Report on exit.
type Stats struct {
	MessagesSent     uint64    `json:"messages_sent"`
	MessagesReceived uint64    `json:"messages_received"`
	BytesSent        uint64    `json:"bytes_sent"`
	BytesReceived    uint64    `json:"bytes_received"`
	Errors           uint64    `json:"errors_count"`
	Reconnects       uint64    `json:"reconnect_attempts"`
	LastFault        ErrorKind `json:"last_fault,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Report is the diagnostic record produced when a connection ends.
type Report struct {
	ConnID      string       `json:"conn_id"`
	RemoteAddr  string       `json:"remote_addr"`
	Origin      string       `json:"origin"`
	FinalState  State        `json:"final_state"`
	Stats       Stats        `json:"stats"`
	Transitions []Transition `json:"transitions"`
	ClosedAt    time.Time    `json:"closed_at"`
}

// Duration is how long the connection lived.
func (r Report) Duration() time.Duration {
	return r.ClosedAt.Sub(r.Stats.CreatedAt)
}

// ReportSink receives a Report for every finished connection. Record must
// not block for long; it runs on the connection's goroutine.
type ReportSink interface {
	Record(r Report)
}

// ReportSinkFunc adapts a function to ReportSink.
type ReportSinkFunc func(Report)

func (f ReportSinkFunc) Record(r Report) { f(r) }
