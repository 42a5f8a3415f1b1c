package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/relay/internal/model"
)

// Subscriber delivers bridged events to out-of-process consumers such as
// `relayd watch --nats`.
type Subscriber interface {
	// Subscribe delivers decoded events on the returned channel. Call the
	// returned cancel function to unsubscribe and close the channel.
	Subscribe(subject string) (<-chan model.Event, func(), error)
	Close() error
}

// NATSSubscriber subscribes to bridged events on NATS.
type NATSSubscriber struct {
	conn *nats.Conn
}

var _ Subscriber = (*NATSSubscriber)(nil)

// NewNATSSubscriber dials url. Unlike Connect it keeps echo enabled, since a
// watcher publishes nothing.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{nats.Name("relayd-watch"), nats.MaxReconnects(-1)}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe supports NATS wildcards like "relay.events.>". Undecodable
// messages are skipped; when the channel is full new messages are dropped so
// the NATS client never blocks.
func (s *NATSSubscriber) Subscribe(subject string) (<-chan model.Event, func(), error) {
	ch := make(chan model.Event, 64)

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)

	sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		var e model.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			slog.Debug("events: skipping undecodable message", "subject", msg.Subject, "err", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
	return ch, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
