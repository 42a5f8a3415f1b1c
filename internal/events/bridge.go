package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/relay/internal/eventbus"
	"github.com/alfredjeanlab/relay/internal/model"
)

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	Prefix string
	Logger *slog.Logger
}

// Bridge forwards events between a bus and NATS in both directions. It owns
// the NATS connection it is given.
type Bridge struct {
	nc     *nats.Conn
	bus    *eventbus.Bus
	prefix string
	logger *slog.Logger

	natsSub *nats.Subscription
	busSub  *eventbus.Subscription
	done    chan struct{}
	once    sync.Once

	published atomic.Uint64
	received  atomic.Uint64
}

// NewBridge creates a stopped bridge. Call Start.
func NewBridge(nc *nats.Conn, bus *eventbus.Bus, cfg BridgeConfig) *Bridge {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		nc:     nc,
		bus:    bus,
		prefix: cfg.Prefix,
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}
}

// Start subscribes to the prefix wildcard and begins publishing local events.
func (b *Bridge) Start() error {
	sub, err := b.nc.Subscribe(b.prefix+".>", b.inbound)
	if err != nil {
		return fmt.Errorf("subscribing to %s.>: %w", b.prefix, err)
	}
	// Flush ensures the subscription is registered on the server before
	// returning, so that messages published on other connections are routed.
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flushing subscription: %w", err)
	}
	b.natsSub = sub
	b.busSub = b.bus.Listen()
	go b.outbound()

	b.logger.Info("events: NATS bridge started", "url", b.nc.ConnectedUrlRedacted(), "prefix", b.prefix)
	return nil
}

func (b *Bridge) inbound(msg *nats.Msg) {
	var e model.Event
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		b.logger.Warn("events: dropping undecodable NATS message", "subject", msg.Subject, "err", err)
		return
	}
	if e.Name == "" {
		e.Name = strings.TrimPrefix(msg.Subject, b.prefix+".")
	}
	if e.ID == "" {
		fresh, err := model.NewEvent(e.Name, e.Payload, model.SourceNATS)
		if err != nil {
			b.logger.Warn("events: assigning id", "err", err)
			return
		}
		e = fresh
	}
	if e.Timestamp == 0 {
		e.Timestamp = model.NowMillis()
	}
	e.Source = model.SourceNATS
	b.received.Add(1)
	b.bus.Emit(e)
}

func (b *Bridge) outbound() {
	defer close(b.done)
	for e := range b.busSub.C() {
		if e.Source == model.SourceNATS {
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			b.logger.Warn("events: encoding event", "name", e.Name, "err", err)
			continue
		}
		if err := b.nc.Publish(Subject(b.prefix, e.Name), data); err != nil {
			b.logger.Warn("events: publish failed", "name", e.Name, "err", err)
			continue
		}
		b.published.Add(1)
	}
}

// Published counts events sent to NATS.
func (b *Bridge) Published() uint64 { return b.published.Load() }

// Received counts events taken from NATS onto the bus.
func (b *Bridge) Received() uint64 { return b.received.Load() }

// Close stops both directions and closes the NATS connection.
func (b *Bridge) Close() error {
	b.once.Do(func() {
		if b.natsSub != nil {
			_ = b.natsSub.Unsubscribe()
		}
		if b.busSub != nil {
			b.busSub.Close()
			<-b.done
		}
		if err := b.nc.Flush(); err != nil {
			b.logger.Debug("events: final flush", "err", err)
		}
		b.nc.Close()
	})
	return nil
}
