package reports

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler periodically flushes a Collector to its destinations.
type Scheduler struct {
	collector    *Collector
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger
	now          func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that flushes c every interval.
func NewScheduler(c *Collector, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		collector:    c,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		now:          time.Now,
	}
}

// Start begins periodic flushing.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the ticker, waits for an in-flight flush, then flushes
// whatever is still buffered using ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.Flush(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Flush drains the collector and writes one batch to every destination. An
// empty collector writes nothing.
func (s *Scheduler) Flush(ctx context.Context) {
	reports, dropped := s.collector.Drain()
	if len(reports) == 0 && dropped == 0 {
		return
	}
	data, err := encodeBatch(reports, dropped, s.now())
	if err != nil {
		s.logger.Error("report export failed", "err", err)
		return
	}

	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			s.logger.Error("report destination write failed", "destination", i, "err", err)
		}
	}

	s.logger.Info("reports flushed", "reports", len(reports), "dropped", dropped, "destinations", len(s.destinations), "bytes", len(data))
}
