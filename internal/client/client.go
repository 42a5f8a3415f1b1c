// Package client talks to a running relayd: a WebSocket client for calling
// backend functions and watching relayed events, an HTTP client for the admin
// API, and a gRPC health client.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/alfredjeanlab/relay/internal/idgen"
	"github.com/alfredjeanlab/relay/internal/model"
)

// ErrClosed is returned by Call once the connection has ended.
var ErrClosed = errors.New("client: connection closed")

// Frame is one inbound message that did not answer a pending Call. Exactly
// one of Message and Error is set.
type Frame struct {
	Message *model.WireMessage
	Error   *model.WireError
}

// WSClient is a WebSocket connection to the relay. It is safe for
// concurrent use.
type WSClient struct {
	conn   *websocket.Conn
	source string

	mu      sync.Mutex
	pending map[string]chan model.WireMessage
	err     error

	frames chan Frame
	done   chan struct{}
	cancel context.CancelFunc
}

// DialOptions configure Dial.
type DialOptions struct {
	// Source tags outgoing messages. Defaults to "frontend".
	Source string
	// Buffer is the Frames capacity; frames beyond it are dropped.
	Buffer int
	// ReadLimit bounds inbound message size. Defaults to 1 MiB.
	ReadLimit int64
}

// Dial connects to url (ws:// or wss://) and starts reading.
func Dial(ctx context.Context, url string, opts *DialOptions) (*WSClient, error) {
	o := DialOptions{Source: model.SourceFrontend, Buffer: 256, ReadLimit: 1 << 20}
	if opts != nil {
		if opts.Source != "" {
			o.Source = opts.Source
		}
		if opts.Buffer > 0 {
			o.Buffer = opts.Buffer
		}
		if opts.ReadLimit > 0 {
			o.ReadLimit = opts.ReadLimit
		}
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	conn.SetReadLimit(o.ReadLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &WSClient{
		conn:    conn,
		source:  o.Source,
		pending: make(map[string]chan model.WireMessage),
		frames:  make(chan Frame, o.Buffer),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go c.readLoop(readCtx)
	return c, nil
}

// inbound decodes either a WireMessage or a WireError.
type inbound struct {
	model.WireMessage
	ErrorType string          `json:"error_type"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details"`
}

func (c *WSClient) readLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.frames)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.shutdown(err)
			return
		}
		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		if in.ErrorType != "" {
			c.offer(Frame{Error: &model.WireError{
				ID:        in.ID,
				ErrorType: in.ErrorType,
				Message:   in.Message,
				Details:   in.Details,
				Timestamp: in.Timestamp,
			}})
			continue
		}
		msg := in.WireMessage
		if ch := c.take(msg.ID); ch != nil {
			ch <- msg
			continue
		}
		c.offer(Frame{Message: &msg})
	}
}

func (c *WSClient) offer(f Frame) {
	select {
	case c.frames <- f:
	default:
	}
}

func (c *WSClient) take(id string) chan model.WireMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return ch
}

func (c *WSClient) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
		err = ErrClosed
	}
	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Call sends name with payload and waits for the reply carrying the same id.
func (c *WSClient) Call(ctx context.Context, name string, payload any) (model.WireMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return model.WireMessage{}, fmt.Errorf("encoding payload: %w", err)
	}
	id, err := idgen.WithPrefix("call-")
	if err != nil {
		return model.WireMessage{}, err
	}

	ch := make(chan model.WireMessage, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return model.WireMessage{}, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.Send(ctx, model.WireMessage{ID: id, Name: name, Payload: raw}); err != nil {
		c.take(id)
		return model.WireMessage{}, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return model.WireMessage{}, c.Err()
		}
		return reply, nil
	case <-ctx.Done():
		c.take(id)
		return model.WireMessage{}, ctx.Err()
	}
}

// Send writes m without waiting for a reply. Empty Source and Timestamp are
// filled in.
func (c *WSClient) Send(ctx context.Context, m model.WireMessage) error {
	if m.Source == "" {
		m.Source = c.source
	}
	if m.Timestamp == 0 {
		m.Timestamp = model.NowMillis()
	}
	if m.Payload == nil {
		m.Payload = json.RawMessage("null")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Frames delivers relayed events and wire errors. It is closed when the
// connection ends.
func (c *WSClient) Frames() <-chan Frame { return c.frames }

// Done is closed once the read loop exits.
func (c *WSClient) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended, or nil while it is open.
func (c *WSClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close performs a normal closure and waits for the read loop.
func (c *WSClient) Close() error {
	select {
	case <-c.done:
		c.cancel()
		return nil
	default:
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	<-c.done
	return err
}
