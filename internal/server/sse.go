package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// sseRingBufferSize is the number of recent events kept for
	// Last-Event-ID replay.
	sseRingBufferSize = 1000

	// sseClientBuffer is each stream's pending-event capacity.
	sseClientBuffer = 64
)

// sseKeepaliveInterval is how often a comment line is written to idle
// streams. Tests shorten it.
var sseKeepaliveInterval = 15 * time.Second

// sseEvent is one bus event as sent to stream clients.
type sseEvent struct {
	Seq  uint64 // hub sequence number, used as the SSE id
	Name string
	Data []byte // JSON-encoded model.Event
}

// sseHub fans bus events out to stream clients and remembers the most
// recent ones for replay.
type sseHub struct {
	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	seq     atomic.Uint64

	ringMu  sync.RWMutex
	ring    [sseRingBufferSize]sseEvent
	ringPos int
	ringLen int
}

// sseClient is one connected stream.
type sseClient struct {
	patterns []string // empty matches every event
	ch       chan *sseEvent
	dropped  atomic.Uint64
}

func newSSEHub() *sseHub {
	return &sseHub{clients: make(map[*sseClient]struct{})}
}

// broadcast records the event and offers it to every matching client. Slow
// clients lose events rather than stall the pump.
func (h *sseHub) broadcast(name string, data []byte) {
	evt := &sseEvent{Seq: h.seq.Add(1), Name: name, Data: data}

	h.ringMu.Lock()
	h.ring[h.ringPos] = *evt
	h.ringPos = (h.ringPos + 1) % sseRingBufferSize
	if h.ringLen < sseRingBufferSize {
		h.ringLen++
	}
	h.ringMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(name) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
			c.dropped.Add(1)
		}
	}
}

func (h *sseHub) subscribe(patterns []string) *sseClient {
	c := &sseClient{patterns: patterns, ch: make(chan *sseEvent, sseClientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *sseHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// eventsSince returns buffered events with Seq > last, oldest first.
func (h *sseHub) eventsSince(last uint64) []*sseEvent {
	h.ringMu.RLock()
	defer h.ringMu.RUnlock()

	var out []*sseEvent
	start := h.ringPos - h.ringLen
	if start < 0 {
		start += sseRingBufferSize
	}
	for i := range h.ringLen {
		evt := h.ring[(start+i)%sseRingBufferSize]
		if evt.Seq > last {
			out = append(out, &evt)
		}
	}
	return out
}

func (c *sseClient) matches(name string) bool {
	if len(c.patterns) == 0 {
		return true
	}
	for _, p := range c.patterns {
		if matchTopicPattern(p, name) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches a dot-separated event name against a pattern.
// "*" matches exactly one segment and a trailing ">" matches one or more.
func matchTopicPattern(pattern, name string) bool {
	if pattern == name {
		return true
	}

	patParts := strings.Split(pattern, ".")
	nameParts := strings.Split(name, ".")

	for i, pp := range patParts {
		if pp == ">" {
			return i < len(nameParts)
		}
		if i >= len(nameParts) {
			return false
		}
		if pp != "*" && pp != nameParts[i] {
			return false
		}
	}
	return len(patParts) == len(nameParts)
}

// parseTopics splits a comma-separated topics query value.
func parseTopics(q string) []string {
	var out []string
	for _, t := range strings.Split(q, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// handleEventStream handles GET /v1/events/stream.
func (s *AdminServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	client := s.sseHub.subscribe(parseTopics(r.URL.Query().Get("topics")))
	defer s.sseHub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if last, err := strconv.ParseUint(v, 10, 64); err == nil {
			for _, evt := range s.sseHub.eventsSince(last) {
				if client.matches(evt.Name) {
					writeSSEEvent(w, evt)
				}
			}
			flusher.Flush()
		}
	}

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			if n := client.dropped.Load(); n > 0 {
				s.logger.Debug("sse client dropped events", "dropped", n)
			}
			return
		case evt := <-client.ch:
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt *sseEvent) {
	fmt.Fprintf(w, "id:%d\n", evt.Seq)
	fmt.Fprintf(w, "event:%s\n", evt.Name)
	fmt.Fprintf(w, "data:%s\n\n", evt.Data)
}
