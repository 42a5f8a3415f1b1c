package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/alfredjeanlab/relay/internal/eventbus"
	"github.com/alfredjeanlab/relay/internal/model"
)

// closeWriteTimeout bounds the best-effort close frame on exit.
const closeWriteTimeout = time.Second

// conn drives one accepted connection from TCP accept to Closed or
// Terminated. All fields except phase are owned by the serve goroutine.
type conn struct {
	id     string
	nc     net.Conn
	srv    *Server
	cfg    *Config
	logger *slog.Logger

	state       State
	phase       atomic.Uint32
	stats       Stats
	transitions []Transition
	lastSent    uint64
	announced   bool

	closeCode   ws.StatusCode
	closeReason string
}

func newConn(srv *Server, id string, nc net.Conn) *conn {
	now := time.Now()
	c := &conn{
		id:  id,
		nc:  nc,
		srv: srv,
		cfg: &srv.cfg,
		logger: srv.cfg.Logger.With(
			"conn_id", id,
			"remote_addr", nc.RemoteAddr().String(),
		),
		stats: Stats{CreatedAt: now},
	}
	c.state = stateOf(PhaseInitialized)
	return c
}

// serve runs the full lifecycle. It returns once the socket is closed and
// every helper goroutine has exited.
func (c *conn) serve(ctx context.Context) {
	defer c.finish()

	c.transition(stateOf(PhaseTCPConnecting), "TCP connection accepted")
	if err := c.setNoDelay(); err != nil {
		c.fail(err)
		return
	}
	c.transition(stateOf(PhaseTCPConnected), "TCP_NODELAY enabled")

	c.transition(stateOf(PhaseHandshakeInitiated), "starting WebSocket handshake")
	if err := c.handshake(); err != nil {
		c.fail(err)
		return
	}
	c.transition(stateOf(PhaseHandshakeCompleted), "WebSocket handshake completed")
	c.transition(stateOf(PhaseAuthenticated), "no authentication configured")

	c.run(ctx)
}

func (c *conn) setNoDelay() error {
	tc, ok := c.nc.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(true); err != nil {
		return newConnError(KindTCPSetNoDelayFailed, "set TCP_NODELAY", err)
	}
	return nil
}

func (c *conn) handshake() error {
	if err := c.nc.SetDeadline(time.Now().Add(c.cfg.HandshakeTimeout)); err != nil {
		return newConnError(KindHandshakeFailed, "set handshake deadline", err)
	}
	u := ws.Upgrader{
		OnRequest: func(uri []byte) error {
			if c.cfg.Path == "" {
				return nil
			}
			u, err := url.ParseRequestURI(string(uri))
			if err != nil || u.Path != c.cfg.Path {
				return ws.RejectConnectionError(
					ws.RejectionStatus(http.StatusNotFound),
					ws.RejectionReason("unknown path"),
				)
			}
			return nil
		},
	}
	_, err := u.Upgrade(c.nc)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return newConnError(KindHandshakeTimeout, "no upgrade within "+c.cfg.HandshakeTimeout.String(), err)
		}
		return newConnError(KindHandshakeFailed, "upgrade", err)
	}
	if err := c.nc.SetDeadline(time.Time{}); err != nil {
		return newConnError(KindHandshakeFailed, "clear handshake deadline", err)
	}
	return nil
}

// run is the steady-state loop. Each iteration handles exactly one of:
// an inbound frame, a relayed bus event, the idle timer, a keepalive tick,
// or server shutdown.
func (c *conn) run(ctx context.Context) {
	sub := c.srv.bus.Listen()
	fwdCtx, cancelFwd := context.WithCancel(ctx)
	relayed := make(chan model.Event)
	fwdDone := make(chan struct{})
	go func() {
		defer close(fwdDone)
		forward(fwdCtx, sub, c.cfg.Origin, relayed)
	}()

	frames := make(chan frame)
	stop := make(chan struct{})
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		c.readFrames(frames, stop)
	}()

	defer func() {
		c.writeClose()
		cancelFwd()
		<-fwdDone
		sub.Close()
		close(stop)
		c.nc.Close()
		<-readDone
		if n := sub.Dropped(); n > 0 {
			c.logger.Warn("relay: bus events dropped for slow connection", "dropped", n)
		}
	}()

	c.transition(stateOf(PhaseReady), "connection established")
	c.announce(eventbus.TopicFrontendConnected)

	idle := time.NewTimer(c.cfg.IdleTimeout)
	defer idle.Stop()

	var keepalive <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		keepalive = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			c.beginClose(ws.StatusGoingAway, "server shutting down")
			return

		case f := <-frames:
			if f.err == nil && f.op != ws.OpPong {
				idle.Reset(c.cfg.IdleTimeout)
			}
			if done := c.handleFrame(ctx, f); done {
				return
			}

		case e := <-relayed:
			idle.Reset(c.cfg.IdleTimeout)
			if err := c.relay(e); err != nil {
				c.fail(err)
				return
			}

		case <-idle.C:
			c.stats.Errors++
			c.stats.LastFault = KindIdleTimeout
			c.logger.Info("relay: idle timeout", "after", c.cfg.IdleTimeout)
			c.beginClose(ws.StatusGoingAway, "idle timeout")
			return

		case <-keepalive:
			if err := c.ping(); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

// handleFrame processes one inbound frame and reports whether the loop
// should end.
func (c *conn) handleFrame(ctx context.Context, f frame) bool {
	if f.err != nil {
		return c.handleReadError(f.err)
	}

	switch f.op {
	case ws.OpClose:
		code, reason := ws.ParseCloseFrameData(f.payload)
		c.logger.Debug("relay: close frame received", "code", code, "reason", reason)
		c.beginClose(ws.StatusNormalClosure, "peer sent close frame")
		return true

	case ws.OpPing:
		c.transition(stateOf(PhaseReceiving), "ping received")
		c.transition(stateOf(PhaseSending), "sending pong")
		if err := c.write(ws.OpPong, f.payload); err != nil {
			c.fail(newConnError(KindSend, "write pong", err))
			return true
		}
		c.transition(stateOf(PhaseReady), "pong sent")
		return false

	case ws.OpPong:
		c.transition(stateOf(PhasePongReceived), "pong received")
		c.transition(stateOf(PhaseReady), "keepalive acknowledged")
		return false
	}

	c.stats.MessagesReceived++
	c.stats.BytesReceived += uint64(len(f.payload))
	c.transition(stateOf(PhaseReceiving), "data frame received")

	msg, werr := decodeMessage(f.op, f.payload)
	c.transition(stateOf(PhaseProcessing), "processing frame")
	if werr != nil {
		c.stats.Errors++
		c.stats.LastFault = KindMessageParse
		c.logger.Warn("relay: malformed frame", "error_type", werr.ErrorType, "bytes", len(f.payload))
		if err := c.sendWireError(werr); err != nil {
			c.fail(err)
			return true
		}
		c.transition(stateOf(PhaseReady), "malformed frame rejected")
		return false
	}

	if err := c.process(ctx, msg); err != nil {
		c.fail(err)
		return true
	}
	c.transition(stateOf(PhaseReady), "request handled")
	return false
}

func (c *conn) handleReadError(err error) bool {
	if errors.Is(err, io.EOF) {
		c.transition(stateOf(PhaseClosed), "stream ended")
		return true
	}
	ce := classifyReadError(err)
	if ce.Kind == KindProtocol {
		// Best effort; the connection is terminated either way.
		if serr := c.sendWireError(protocolWireError(err)); serr != nil {
			c.logger.Debug("relay: protocol error reply failed", "err", serr)
		}
	}
	c.fail(ce)
	return true
}

// process executes a function call, replies to it, then republishes the
// inbound event on the bus under its original source.
func (c *conn) process(ctx context.Context, msg model.WireMessage) error {
	result, ok := c.srv.exec.Execute(ctx, msg.Name, msg.Payload)
	if !ok {
		c.logger.Warn("relay: unknown function", "function", msg.Name)
		result = unknownFunction(msg.Name)
	}

	reply := model.WireMessage{
		ID:      msg.ID,
		Name:    msg.Name,
		Payload: result,
		Source:  model.SourceBackend,
	}
	if err := c.send(reply); err != nil {
		return err
	}

	e := msg.Event()
	e.Timestamp = model.NowMillis()
	if e.Source == "" {
		e.Source = c.cfg.Origin
	}
	c.srv.bus.Emit(e)
	return nil
}

func (c *conn) relay(e model.Event) error {
	if err := c.send(model.WireFromEvent(e)); err != nil {
		return err
	}
	c.transition(stateOf(PhaseReady), "event relayed")
	return nil
}

func (c *conn) ping() error {
	c.transition(stateOf(PhasePingSent), "keepalive")
	if err := c.write(ws.OpPing, nil); err != nil {
		return newConnError(KindSend, "write ping", err)
	}
	return nil
}

// send stamps and writes a wire message. Timestamps never go backwards on
// one connection.
func (c *conn) send(m model.WireMessage) error {
	m.Timestamp = c.stamp()
	data, err := json.Marshal(m)
	if err != nil {
		return newConnError(KindSerialization, "encode "+m.Name, err)
	}
	c.transition(stateOf(PhaseSending), "sending "+m.Name)
	if err := c.write(ws.OpText, data); err != nil {
		return newConnError(KindSend, "write "+m.Name, err)
	}
	c.stats.MessagesSent++
	c.stats.BytesSent += uint64(len(data))
	return nil
}

func (c *conn) sendWireError(we *model.WireError) error {
	we.Timestamp = c.stamp()
	data, err := json.Marshal(we)
	if err != nil {
		return newConnError(KindSerialization, "encode wire error", err)
	}
	c.transition(stateOf(PhaseSending), "sending "+we.ErrorType)
	if err := c.write(ws.OpText, data); err != nil {
		return newConnError(KindSend, "write wire error", err)
	}
	c.stats.MessagesSent++
	c.stats.BytesSent += uint64(len(data))
	return nil
}

func (c *conn) stamp() uint64 {
	ts := model.NowMillis()
	if ts < c.lastSent {
		ts = c.lastSent
	}
	c.lastSent = ts
	return ts
}

func (c *conn) write(op ws.OpCode, p []byte) error {
	if err := c.nc.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return wsutil.WriteServerMessage(c.nc, op, p)
}

func (c *conn) beginClose(code ws.StatusCode, reason string) {
	c.closeCode = code
	c.closeReason = reason
	c.transition(stateOf(PhaseClosing), reason)
}

// writeClose sends a close frame if the loop ended gracefully.
func (c *conn) writeClose() {
	if c.state.Phase != PhaseClosing {
		return
	}
	if err := c.nc.SetWriteDeadline(time.Now().Add(closeWriteTimeout)); err != nil {
		return
	}
	body := ws.NewCloseFrameBody(c.closeCode, c.closeReason)
	if err := ws.WriteFrame(c.nc, ws.NewCloseFrame(body)); err != nil {
		c.logger.Debug("relay: close frame not delivered", "err", err)
	}
}

func (c *conn) fail(err error) {
	kind := KindOf(err)
	c.stats.Errors++
	c.stats.LastFault = kind
	c.logger.Error("relay: connection failed", "kind", kind, "err", err)
	c.transition(errorState(kind), err.Error())
}

func (c *conn) transition(to State, reason string) {
	from := c.state
	c.state = to
	c.phase.Store(uint32(to.Phase))
	c.transitions = append(c.transitions, Transition{
		From:   from,
		To:     to,
		At:     time.Now(),
		Reason: reason,
	})
	c.logger.Debug("relay: state transition", "from", from, "to", to, "reason", reason)
}

func (c *conn) announce(topic string) {
	if topic == eventbus.TopicFrontendConnected {
		c.announced = true
	}
	err := c.srv.bus.EmitSimple(topic, map[string]string{
		"connection_id": c.id,
		"remote_addr":   c.nc.RemoteAddr().String(),
	})
	if err != nil {
		c.logger.Error("relay: announce", "topic", topic, "err", err)
	}
}

// finish records the terminal state and publishes the report.
func (c *conn) finish() {
	c.nc.Close()

	switch {
	case c.state.Phase == PhaseError:
		c.transition(stateOf(PhaseTerminated), "terminated after "+c.state.Fault.String())
	case !c.state.Final():
		c.transition(stateOf(PhaseClosed), "connection closed")
	}
	if c.announced {
		c.announce(eventbus.TopicFrontendDisconnected)
	}

	r := Report{
		ConnID:      c.id,
		RemoteAddr:  c.nc.RemoteAddr().String(),
		Origin:      c.cfg.Origin,
		FinalState:  c.state,
		Stats:       c.stats,
		Transitions: c.transitions,
		ClosedAt:    time.Now(),
	}
	c.logger.Info("relay: connection finished",
		"final_state", r.FinalState,
		"duration", r.Duration().Round(time.Millisecond),
		"messages_sent", r.Stats.MessagesSent,
		"messages_received", r.Stats.MessagesReceived,
		"bytes_sent", r.Stats.BytesSent,
		"bytes_received", r.Stats.BytesReceived,
		"errors", r.Stats.Errors,
		"transitions", len(r.Transitions))
	if c.cfg.Reports != nil {
		c.cfg.Reports.Record(r)
	}
}

// Info is a point-in-time view of a live connection.
type Info struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Phase       string    `json:"phase"`
	ConnectedAt time.Time `json:"connected_at"`
}

func (c *conn) info() Info {
	return Info{
		ID:          c.id,
		RemoteAddr:  c.nc.RemoteAddr().String(),
		Phase:       Phase(c.phase.Load()).String(),
		ConnectedAt: c.stats.CreatedAt,
	}
}
