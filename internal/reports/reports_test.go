package reports

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/relay/internal/relay"
)

func testReport(id string) relay.Report {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return relay.Report{
		ConnID:     id,
		RemoteAddr: "127.0.0.1:5000",
		Origin:     "frontend",
		FinalState: relay.State{Phase: relay.PhaseClosed},
		Stats:      relay.Stats{MessagesReceived: 2, CreatedAt: created},
		ClosedAt:   created.Add(time.Minute),
	}
}

// mockDestination records calls to Write.
type mockDestination struct {
	writes atomic.Int64
	last   atomic.Value // []byte
}

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.writes.Add(1)
	cp := make([]byte, len(data))
	copy(cp, data)
	d.last.Store(cp)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func TestCollectorDrain(t *testing.T) {
	c := NewCollector(0)
	c.Record(testReport("conn-a"))
	c.Record(testReport("conn-b"))

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	got, dropped := c.Drain()
	if len(got) != 2 || dropped != 0 {
		t.Fatalf("Drain() = %d reports, %d dropped", len(got), dropped)
	}
	if got[0].ConnID != "conn-a" || got[1].ConnID != "conn-b" {
		t.Errorf("order = %s, %s", got[0].ConnID, got[1].ConnID)
	}
	if c.Len() != 0 {
		t.Errorf("Len() after drain = %d", c.Len())
	}
}

func TestCollectorDropsOldest(t *testing.T) {
	c := NewCollector(2)
	for _, id := range []string{"a", "b", "c"} {
		c.Record(testReport(id))
	}
	got, dropped := c.Drain()
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if len(got) != 2 || got[0].ConnID != "b" || got[1].ConnID != "c" {
		t.Errorf("got %+v", got)
	}
}

func TestWriteJSONL(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	if err := WriteJSONL(&buf, []relay.Report{testReport("conn-a")}, 3, now); err != nil {
		t.Fatalf("WriteJSONL: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Type != "header" || h.Count != 1 || h.Dropped != 3 || !h.Timestamp.Equal(now) {
		t.Errorf("header = %+v", h)
	}

	var rec struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Type != "connection" {
		t.Errorf("type = %q", rec.Type)
	}
	if !strings.Contains(string(rec.Data), `"final_state":"Closed"`) {
		t.Errorf("record data missing final state: %s", rec.Data)
	}
}

func TestSchedulerFlushesOnTick(t *testing.T) {
	c := NewCollector(0)
	dest := &mockDestination{}
	sched := NewScheduler(c, []Destination{dest}, 20*time.Millisecond, quietLogger())
	sched.Start()
	c.Record(testReport("conn-a"))

	deadline := time.Now().Add(2 * time.Second)
	for dest.writes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sched.Stop(context.Background())

	if dest.writes.Load() != 1 {
		t.Fatalf("writes = %d, want 1", dest.writes.Load())
	}
	data, _ := dest.last.Load().([]byte)
	if lines := nonEmptyLines(string(data)); len(lines) != 2 {
		t.Fatalf("expected header + 1 report, got %d lines", len(lines))
	}
}

func TestSchedulerSkipsEmptyFlush(t *testing.T) {
	dest := &mockDestination{}
	sched := NewScheduler(NewCollector(0), []Destination{dest}, time.Hour, quietLogger())
	sched.Flush(context.Background())
	if dest.writes.Load() != 0 {
		t.Errorf("empty flush wrote %d times", dest.writes.Load())
	}
}

func TestSchedulerStopFlushesRemainder(t *testing.T) {
	c := NewCollector(0)
	dest1, dest2 := &mockDestination{}, &mockDestination{}
	sched := NewScheduler(c, []Destination{dest1, dest2}, time.Hour, quietLogger())
	sched.Start()
	c.Record(testReport("conn-a"))
	sched.Stop(context.Background())

	if dest1.writes.Load() != 1 || dest2.writes.Load() != 1 {
		t.Errorf("writes = %d, %d; want 1, 1", dest1.writes.Load(), dest2.writes.Load())
	}
}

func TestSchedulerStop_NoStart(t *testing.T) {
	sched := NewScheduler(NewCollector(0), nil, time.Minute, quietLogger())
	sched.Stop(context.Background())
}

func TestFileDestinationAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reports.jsonl")
	d := NewFileDestination(path)
	ctx := context.Background()
	if err := d.Write(ctx, []byte("{\"a\":1}\n")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := d.Write(ctx, []byte("{\"b\":2}\n")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	var n int
	for sc := bufio.NewScanner(f); sc.Scan(); {
		n++
	}
	if n != 2 {
		t.Errorf("lines = %d, want 2", n)
	}
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2026, 3, 1, 13, 4, 5, 0, time.UTC)
	got := objectKey("relay/reports", at, "abc")
	want := "relay/reports/2026/03/01/20260301T130405.000Z-abc.jsonl"
	if got != want {
		t.Errorf("objectKey = %q, want %q", got, want)
	}
}
