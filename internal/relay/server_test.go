package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/alfredjeanlab/relay/internal/eventbus"
	"github.com/alfredjeanlab/relay/internal/executor"
	"github.com/alfredjeanlab/relay/internal/model"
)

type fakeStore struct{ users []model.User }

func (f *fakeStore) ListUsers(context.Context) ([]model.User, error) { return f.users, nil }
func (f *fakeStore) Stats(context.Context) (model.DatabaseStats, error) {
	return model.DatabaseStats{UsersCount: int64(len(f.users)), Tables: []string{"users"}}, nil
}
func (f *fakeStore) SeedSampleUsers(context.Context) (int, error) { return 0, nil }
func (f *fakeStore) Close() error                                 { return nil }

type testServer struct {
	srv     *Server
	bus     *eventbus.Bus
	url     string
	reports chan Report
	cancel  context.CancelFunc
	done    chan error
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	logger := quietLogger()
	bus := eventbus.New(0, logger)
	exec := executor.New(executor.Config{Bus: bus, Logger: logger})
	exec.SetStore(&fakeStore{users: []model.User{
		{ID: 1, Name: "John Doe", Email: "john@example.com", Role: "admin", Status: "active"},
		{ID: 2, Name: "Jane Smith", Email: "jane@example.com", Role: "user", Status: "active"},
	}})

	reports := make(chan Report, 16)
	cfg := Config{
		Bus:      bus,
		Executor: exec,
		Logger:   logger,
		Reports:  ReportSinkFunc(func(r Report) { reports <- r }),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{
		srv:     srv,
		bus:     bus,
		url:     "ws://" + ln.Addr().String(),
		reports: reports,
		cancel:  cancel,
		done:    make(chan error, 1),
	}
	go func() { ts.done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-ts.done:
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})
	return ts
}

// dial connects and waits for the connection's own frontend.connected
// announcement, which guarantees its bus subscription exists.
func (ts *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, ts.url+path, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.CloseNow() })

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("reading connect announcement: %v", err)
	}
	var m model.WireMessage
	if err := json.Unmarshal(data, &m); err != nil || m.Name != eventbus.TopicFrontendConnected {
		t.Fatalf("first message = %s, want frontend.connected", data)
	}
	return c
}

func (ts *testServer) report(t *testing.T) Report {
	t.Helper()
	select {
	case r := <-ts.reports:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connection report")
		return Report{}
	}
}

func isLifecycle(name string) bool {
	return name == eventbus.TopicFrontendConnected || name == eventbus.TopicFrontendDisconnected
}

// readRaw returns the next frame that is not another connection's lifecycle
// announcement.
func readRaw(t *testing.T, c *websocket.Conn) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var m model.WireMessage
		if json.Unmarshal(data, &m) == nil && isLifecycle(m.Name) {
			continue
		}
		return data
	}
}

func readMessage(t *testing.T, c *websocket.Conn) model.WireMessage {
	t.Helper()
	data := readRaw(t, c)
	var m model.WireMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func writeText(t *testing.T, c *websocket.Conn, s string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte(s)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func hasTransitionTo(r Report, want string) bool {
	for _, tr := range r.Transitions {
		if tr.To.String() == want {
			return true
		}
	}
	return false
}

func TestGetUsers_ReplyCorrelatesByID(t *testing.T) {
	ts := startServer(t, nil)
	c := ts.dial(t, "/")

	writeText(t, c, `{"id":"1","name":"get_users","payload":{},"timestamp":0,"source":"frontend"}`)
	reply := readMessage(t, c)

	if reply.ID != "1" || reply.Name != "get_users" || reply.Source != model.SourceBackend {
		t.Fatalf("reply = %+v", reply)
	}
	var payload struct {
		Success bool         `json:"success"`
		Data    []model.User `json:"data"`
	}
	if err := json.Unmarshal(reply.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !payload.Success || len(payload.Data) != 2 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestMalformedJSON_ConnectionSurvives(t *testing.T) {
	ts := startServer(t, nil)
	c := ts.dial(t, "/")

	writeText(t, c, "not json")
	var werr model.WireError
	if err := json.Unmarshal(readRaw(t, c), &werr); err != nil {
		t.Fatalf("decode wire error: %v", err)
	}
	if werr.ID != "parse_error" || werr.ErrorType != model.ErrTypeJSONParse {
		t.Fatalf("wire error = %+v", werr)
	}

	writeText(t, c, `{"id":"2","name":"get_db_stats","payload":null,"timestamp":0,"source":"frontend"}`)
	if reply := readMessage(t, c); reply.ID != "2" {
		t.Fatalf("reply after malformed frame = %+v", reply)
	}

	c.Close(websocket.StatusNormalClosure, "")
	r := ts.report(t)
	if r.Stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", r.Stats.Errors)
	}
}

func TestBinaryFrames(t *testing.T) {
	ts := startServer(t, nil)
	c := ts.dial(t, "/")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := `{"id":"b1","name":"get_db_stats","payload":{},"timestamp":0,"source":"frontend"}`
	if err := c.Write(ctx, websocket.MessageBinary, []byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if reply := readMessage(t, c); reply.ID != "b1" {
		t.Fatalf("reply = %+v", reply)
	}

	if err := c.Write(ctx, websocket.MessageBinary, []byte{0xff, 0xfe, 0x00}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var werr model.WireError
	if err := json.Unmarshal(readRaw(t, c), &werr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if werr.ErrorType != model.ErrTypeUTF8Decode {
		t.Errorf("ErrorType = %q, want %q", werr.ErrorType, model.ErrTypeUTF8Decode)
	}
}

func TestUnknownFunction_SoftFail(t *testing.T) {
	ts := startServer(t, nil)
	c := ts.dial(t, "/")

	writeText(t, c, `{"id":"u1","name":"does_not_exist","payload":{},"timestamp":0,"source":"frontend"}`)
	reply := readMessage(t, c)
	var payload map[string]any
	json.Unmarshal(reply.Payload, &payload)
	if reply.ID != "u1" || payload["success"] != false || payload["error"] != "Unknown function: does_not_exist" {
		t.Fatalf("reply = %+v payload = %v", reply, payload)
	}
}

func TestBusEventRelayedToIdleClient(t *testing.T) {
	ts := startServer(t, nil)
	c := ts.dial(t, "/")

	e, _ := model.NewEventFrom(eventbus.TopicDataChanged, map[string]int{"rows": 3}, model.SourceBackend)
	ts.bus.Emit(e)

	got := readMessage(t, c)
	if got.ID != e.ID || got.Name != eventbus.TopicDataChanged || got.Source != model.SourceBackend {
		t.Fatalf("relayed = %+v, want %+v", got, e)
	}
	if string(got.Payload) != `{"rows":3}` {
		t.Errorf("payload = %s", got.Payload)
	}
}

func TestLoopPrevention(t *testing.T) {
	ts := startServer(t, nil)
	c := ts.dial(t, "/")

	echo, _ := model.NewEvent("user.login", nil, model.SourceFrontend)
	ts.bus.Emit(echo)
	marker, _ := model.NewEvent("user.logout", nil, model.SourceBackend)
	ts.bus.Emit(marker)

	if got := readMessage(t, c); got.ID != marker.ID {
		t.Fatalf("first relayed event = %+v, want backend marker (frontend event must not echo)", got)
	}
}

func TestInboundRepublishedWithOrigin(t *testing.T) {
	ts := startServer(t, nil)
	sub := ts.bus.Listen()
	defer sub.Close()
	c := ts.dial(t, "/")

	writeText(t, c, `{"id":"r1","name":"ui.ready","payload":{},"timestamp":0,"source":"frontend"}`)
	readMessage(t, c) // reply

	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-sub.C():
			if e.Name == eventbus.TopicUIReady {
				if e.Source != model.SourceFrontend || e.ID != "r1" {
					t.Fatalf("republished = %+v", e)
				}
				return
			}
		case <-deadline:
			t.Fatal("inbound event not republished on the bus")
		}
	}
}

func TestTimestampsNonDecreasing(t *testing.T) {
	ts := startServer(t, nil)
	c := ts.dial(t, "/")

	var last uint64
	for i := 0; i < 5; i++ {
		writeText(t, c, `{"id":"t","name":"get_db_stats","payload":{},"timestamp":0,"source":"frontend"}`)
		m := readMessage(t, c)
		if m.Timestamp < last {
			t.Fatalf("timestamp went backwards: %d < %d", m.Timestamp, last)
		}
		last = m.Timestamp
	}
}

func TestPingAnswered(t *testing.T) {
	ts := startServer(t, nil)
	c := ts.dial(t, "/")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx = c.CloseRead(ctx)
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestIdleTimeout_ClosesConnection(t *testing.T) {
	ts := startServer(t, func(cfg *Config) { cfg.IdleTimeout = 200 * time.Millisecond })
	c := ts.dial(t, "/")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway {
		t.Fatalf("read err = %v (status %d), want going-away close", err, status)
	}

	r := ts.report(t)
	if r.FinalState.Phase != PhaseClosed {
		t.Errorf("FinalState = %s, want Closed", r.FinalState)
	}
	if r.Stats.LastFault != KindIdleTimeout || r.Stats.Errors != 1 {
		t.Errorf("stats = %+v, want one IdleTimeout", r.Stats)
	}
	if !hasTransitionTo(r, "Closing") {
		t.Error("no Closing transition recorded")
	}
}

func TestPeerClose_ReportsLifecycle(t *testing.T) {
	ts := startServer(t, nil)
	c := ts.dial(t, "/")
	if err := c.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := ts.report(t)
	if r.FinalState.Phase != PhaseClosed {
		t.Fatalf("FinalState = %s, want Closed", r.FinalState)
	}
	want := []string{"TcpConnecting", "TcpConnected", "HandshakeInitiated", "HandshakeCompleted", "Authenticated", "Ready"}
	for i, name := range want {
		if r.Transitions[i].To.String() != name {
			t.Fatalf("transition %d = %s, want %s", i, r.Transitions[i].To, name)
		}
	}
	for i := 1; i < len(r.Transitions); i++ {
		if r.Transitions[i].From != r.Transitions[i-1].To {
			t.Fatalf("transition log broken at %d: %s -> %s after -> %s",
				i, r.Transitions[i].From, r.Transitions[i].To, r.Transitions[i-1].To)
		}
		if r.Transitions[i].At.Before(r.Transitions[i-1].At) {
			t.Fatalf("transition %d recorded before its predecessor", i)
		}
	}
	if r.Origin != model.SourceFrontend || !strings.HasPrefix(r.ConnID, "conn-") {
		t.Errorf("report = %+v", r)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	ts := startServer(t, func(cfg *Config) { cfg.HandshakeTimeout = 100 * time.Millisecond })

	nc, err := net.Dial("tcp", strings.TrimPrefix(ts.url, "ws://"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer nc.Close()

	r := ts.report(t)
	if r.FinalState.Phase != PhaseTerminated {
		t.Fatalf("FinalState = %s, want Terminated", r.FinalState)
	}
	if r.Stats.LastFault != KindHandshakeTimeout {
		t.Errorf("LastFault = %s, want HandshakeTimeout", r.Stats.LastFault)
	}
	if !hasTransitionTo(r, "Error(HandshakeTimeout)") {
		t.Error("no Error(HandshakeTimeout) transition")
	}
}

func TestHandshakeFailed_PlainHTTP(t *testing.T) {
	ts := startServer(t, nil)

	nc, err := net.Dial("tcp", strings.TrimPrefix(ts.url, "ws://"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer nc.Close()
	if _, err := nc.Write([]byte("GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	status, _ := bufio.NewReader(nc).ReadString('\n')
	if !strings.Contains(status, "400") {
		t.Errorf("status line = %q, want 400", status)
	}

	r := ts.report(t)
	if r.FinalState.Phase != PhaseTerminated || r.Stats.LastFault != KindHandshakeFailed {
		t.Fatalf("report = %s / %s", r.FinalState, r.Stats.LastFault)
	}
}

func TestPathMismatchRejected(t *testing.T) {
	ts := startServer(t, func(cfg *Config) { cfg.Path = "/ws" })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := websocket.Dial(ctx, ts.url+"/elsewhere", nil); err == nil {
		t.Fatal("dial to wrong path succeeded")
	}
	if r := ts.report(t); r.Stats.LastFault != KindHandshakeFailed {
		t.Fatalf("LastFault = %s, want HandshakeFailed", r.Stats.LastFault)
	}

	c := ts.dial(t, "/ws")
	c.Close(websocket.StatusNormalClosure, "")
}

func TestOversizedMessageTerminates(t *testing.T) {
	ts := startServer(t, func(cfg *Config) { cfg.MaxMessageSize = 64 })
	c := ts.dial(t, "/")

	writeText(t, c, `{"id":"big","name":"get_users","payload":"`+strings.Repeat("x", 200)+`"}`)

	r := ts.report(t)
	if r.FinalState.Phase != PhaseTerminated || r.Stats.LastFault != KindProtocol {
		t.Fatalf("report = %s / %s, want Terminated after ProtocolError", r.FinalState, r.Stats.LastFault)
	}
}

func TestActiveConnections(t *testing.T) {
	ts := startServer(t, nil)
	ts.dial(t, "/")

	deadline := time.Now().Add(5 * time.Second)
	for {
		active := ts.srv.Active()
		if len(active) == 1 && active[0].Phase == "Ready" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Active() = %+v, want one Ready connection", active)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	ts := startServer(t, nil)
	c := ts.dial(t, "/")

	ts.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway {
		t.Fatalf("read err = %v, want going-away close", err)
	}
	select {
	case err := <-ts.done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
		ts.done <- nil
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New without bus succeeded")
	}
	if _, err := New(Config{Bus: eventbus.New(0, quietLogger())}); err == nil {
		t.Fatal("New without executor succeeded")
	}
}

func TestListenAndServe_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	logger := quietLogger()
	bus := eventbus.New(0, logger)
	srv, err := New(Config{
		Addr:     ln.Addr().String(),
		Bus:      bus,
		Executor: executor.New(executor.Config{Bus: bus, Logger: logger}),
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = srv.ListenAndServe(context.Background())
	if KindOf(err) != KindTCPBindFailed {
		t.Fatalf("ListenAndServe err = %v, want TcpBindFailed", err)
	}
}
