// Package relay accepts WebSocket connections and runs one connection loop
// per client, relaying event-bus traffic in both directions.
//
// Each connection walks an explicit lifecycle (see Phase) from TCP accept
// through handshake to Ready, then multiplexes inbound frames, relayed bus
// events and an idle timer until it reaches Closed or Terminated. Inbound
// messages are function calls handed to an executor.Executor; the reply goes
// back on the same connection and the call is republished on the bus.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/relay/internal/eventbus"
	"github.com/alfredjeanlab/relay/internal/executor"
	"github.com/alfredjeanlab/relay/internal/idgen"
	"github.com/alfredjeanlab/relay/internal/model"
)

// Defaults applied by New.
const (
	DefaultAddr             = "127.0.0.1:9000"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultIdleTimeout      = 300 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultMaxMessageSize   = 1 << 20
)

// Config holds the server's collaborators and limits.
type Config struct {
	Addr string // listen address for ListenAndServe
	Path string // required request path; empty accepts any

	// Origin is the source tag of this transport class. Bus events carrying
	// it are never relayed back to clients.
	Origin string

	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration // 0 disables server keepalive pings
	MaxMessageSize   int64

	Bus      *eventbus.Bus
	Executor executor.Executor
	Reports  ReportSink
	Logger   *slog.Logger
}

// Server is the acceptor: it owns the listener and the set of live
// connections.
type Server struct {
	cfg  Config
	bus  *eventbus.Bus
	exec executor.Executor

	mu    sync.Mutex
	ln    net.Listener
	conns map[string]*conn
	wg    sync.WaitGroup
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Server, error) {
	if cfg.Bus == nil {
		return nil, errors.New("relay: Bus is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("relay: Executor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Origin == "" {
		cfg.Origin = model.SourceFrontend
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Server{
		cfg:   cfg,
		bus:   cfg.Bus,
		exec:  cfg.Executor,
		conns: make(map[string]*conn),
	}, nil
}

// ListenAndServe binds cfg.Addr and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return newConnError(KindTCPBindFailed, "listen on "+s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled or ln fails, then
// waits for every connection to finish. It returns nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer s.wg.Wait()

	s.cfg.Logger.Info("relay: listening", "addr", ln.Addr().String(), "origin", s.cfg.Origin)

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = nextBackoff(backoff)
			s.cfg.Logger.Error("relay: accept failed, retrying",
				"err", newConnError(KindTCPAcceptFailed, "accept", err), "backoff", backoff)
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		backoff = 0

		id, err := idgen.Conn()
		if err != nil {
			s.cfg.Logger.Error("relay: connection id", "err", err)
			nc.Close()
			continue
		}
		c := newConn(s, id, nc)
		s.track(c)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(c)
			c.serve(ctx)
		}()
	}
}

// Addr returns the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Active lists live connections ordered by connect time.
func (s *Server) Active() []Info {
	s.mu.Lock()
	out := make([]Info, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c.info())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

func (s *Server) track(c *conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
