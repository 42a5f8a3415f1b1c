package relay

import (
	"bufio"
	"errors"
	"io"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// frame is one complete inbound message or control frame, or the read error
// that ended the stream.
type frame struct {
	op      ws.OpCode
	payload []byte
	err     error
}

var errReaderStopped = errors.New("frame reader stopped")

// readFrames reads until an error or a close frame and hands each frame to
// out. It returns early once stop is closed.
func (c *conn) readFrames(out chan<- frame, stop <-chan struct{}) {
	send := func(f frame) bool {
		select {
		case out <- f:
			return true
		case <-stop:
			return false
		}
	}

	rd := &wsutil.Reader{
		Source:       bufio.NewReader(c.nc),
		State:        ws.StateServerSide,
		MaxFrameSize: c.cfg.MaxMessageSize,
	}
	// Control frames interleaved with a fragmented message.
	rd.OnIntermediate = func(hdr ws.Header, r io.Reader) error {
		payload, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		if !send(frame{op: hdr.OpCode, payload: payload}) || hdr.OpCode == ws.OpClose {
			return errReaderStopped
		}
		return nil
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			send(frame{err: err})
			return
		}
		payload, err := c.readPayload(rd)
		if errors.Is(err, errReaderStopped) {
			return
		}
		if err != nil {
			send(frame{err: err})
			return
		}
		if !send(frame{op: hdr.OpCode, payload: payload}) || hdr.OpCode == ws.OpClose {
			return
		}
	}
}

// readPayload drains the current message, following continuation frames.
func (c *conn) readPayload(rd *wsutil.Reader) ([]byte, error) {
	limit := c.cfg.MaxMessageSize
	data, err := io.ReadAll(io.LimitReader(rd, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errMessageTooLarge
	}
	return data, nil
}
