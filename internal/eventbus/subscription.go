package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/alfredjeanlab/relay/internal/model"
)

// Subscription is an independent, bounded view of the bus. When its buffer
// is full the oldest pending event is discarded to make room.
type Subscription struct {
	ch      chan model.Event
	bus     *Bus
	dropped atomic.Uint64
	once    sync.Once
}

// C returns the receive channel. It is closed by Close.
func (s *Subscription) C() <-chan model.Event {
	return s.ch
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription from the bus and closes its channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
		// Once removed under fanMu, no delivery can reach s.ch.
		close(s.ch)
	})
}

// deliver is called with bus.fanMu held; only one producer runs at a time.
func (s *Subscription) deliver(e model.Event) {
	select {
	case s.ch <- e:
		return
	default:
	}
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}
