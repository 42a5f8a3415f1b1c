// Package reports archives the diagnostic Report of every finished relay
// connection. A Collector buffers reports in memory and a Scheduler flushes
// them as JSONL to one or more destinations on an interval and at shutdown.
package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/alfredjeanlab/relay/internal/relay"
)

// Destination is a JSONL archive target (S3, local file).
type Destination interface {
	// Write stores one flushed batch.
	Write(ctx context.Context, data []byte) error
}

// header is the first JSONL record of each batch.
type header struct {
	Version   string    `json:"version"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"report_count"`
	Dropped   uint64    `json:"dropped"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string       `json:"type"`
	Data relay.Report `json:"data"`
}

// DefaultLimit bounds the number of reports buffered between flushes.
const DefaultLimit = 10000

// Collector is a relay.ReportSink that buffers reports until drained. When
// the buffer is full the oldest report is discarded.
type Collector struct {
	mu      sync.Mutex
	pending []relay.Report
	limit   int
	dropped uint64
}

var _ relay.ReportSink = (*Collector)(nil)

// NewCollector creates a collector holding at most limit reports.
func NewCollector(limit int) *Collector {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Collector{limit: limit}
}

// Record implements relay.ReportSink.
func (c *Collector) Record(r relay.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) >= c.limit {
		c.pending = c.pending[1:]
		c.dropped++
	}
	c.pending = append(c.pending, r)
}

// Len returns the number of buffered reports.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Drain removes and returns every buffered report along with the number of
// reports discarded since the previous drain.
func (c *Collector) Drain() ([]relay.Report, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, dropped := c.pending, c.dropped
	c.pending, c.dropped = nil, 0
	return out, dropped
}

// WriteJSONL writes a header line followed by one line per report.
func WriteJSONL(w io.Writer, reports []relay.Report, dropped uint64, now time.Time) error {
	enc := json.NewEncoder(w)
	h := header{
		Version:   "1",
		Type:      "header",
		Timestamp: now.UTC(),
		Count:     len(reports),
		Dropped:   dropped,
	}
	if err := enc.Encode(h); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for _, r := range reports {
		if err := enc.Encode(record{Type: "connection", Data: r}); err != nil {
			return fmt.Errorf("encode report %s: %w", r.ConnID, err)
		}
	}
	return nil
}

func encodeBatch(reports []relay.Report, dropped uint64, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteJSONL(&buf, reports, dropped, now); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
