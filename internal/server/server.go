// Package server exposes the relay's admin surfaces: a JSON HTTP API with a
// server-sent event stream of bus traffic, and a gRPC server carrying the
// standard health service.
package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/relay/internal/eventbus"
	"github.com/alfredjeanlab/relay/internal/relay"
	"github.com/alfredjeanlab/relay/internal/windows"
)

// Connections lists live relay connections. *relay.Server implements it.
type Connections interface {
	Active() []relay.Info
}

// Config wires an AdminServer to the running relay.
type Config struct {
	Bus         *eventbus.Bus
	Connections Connections
	Windows     *windows.Tracker
	Logger      *slog.Logger
}

// AdminServer serves the admin HTTP API. Start pumps bus events into the
// SSE hub; Close stops the pump.
type AdminServer struct {
	bus     *eventbus.Bus
	conns   Connections
	windows *windows.Tracker
	logger  *slog.Logger
	started time.Time

	sseHub *sseHub
	sub    *eventbus.Subscription
	done   chan struct{}
	once   sync.Once
}

// NewAdminServer returns a stopped admin server.
func NewAdminServer(cfg Config) *AdminServer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AdminServer{
		bus:     cfg.Bus,
		conns:   cfg.Connections,
		windows: cfg.Windows,
		logger:  cfg.Logger,
		started: time.Now(),
		sseHub:  newSSEHub(),
		done:    make(chan struct{}),
	}
}

// Start begins mirroring bus events onto the SSE stream.
func (s *AdminServer) Start() {
	s.sub = s.bus.Listen()
	go s.pump()
}

func (s *AdminServer) pump() {
	defer close(s.done)
	for e := range s.sub.C() {
		data, err := json.Marshal(e)
		if err != nil {
			s.logger.Warn("failed to marshal event for SSE broadcast", "name", e.Name, "error", err)
			continue
		}
		s.sseHub.broadcast(e.Name, data)
	}
}

// Close stops the bus pump. Open SSE streams end when their requests do.
func (s *AdminServer) Close() {
	s.once.Do(func() {
		if s.sub == nil {
			return
		}
		s.sub.Close()
		<-s.done
	})
}
