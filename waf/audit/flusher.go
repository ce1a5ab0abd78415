package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"rhinoguard/waf/logging"
	"rhinoguard/waf/metrics"
)

type FlusherConfig struct {
	FlushInterval time.Duration
	BatchSize     int
	Timeout       time.Duration // per sink write
}

// Flusher drains the ring into a sink in the background. Delivery is at
// least once: a failed batch stays in the ring and is offered again on the
// next flush, and records that were overwritten in the meantime are counted
// as lost.
type Flusher struct {
	ring   *Ring
	sink   Sink
	name   string
	config FlusherConfig
	log    zerolog.Logger

	mu     sync.Mutex // serializes Flush
	cursor atomic.Uint64
	lost   atomic.Uint64
	failed atomic.Uint64

	wake      chan struct{}
	complaint rate.Sometimes
}

func NewFlusher(ring *Ring, sink Sink, config FlusherConfig) *Flusher {
	if config.FlushInterval <= 0 {
		config.FlushInterval = 2 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &Flusher{
		ring:      ring,
		sink:      sink,
		name:      sinkName(sink),
		config:    config,
		log:       logging.With("audit-flusher"),
		wake:      make(chan struct{}, 1),
		complaint: rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
}

func (f *Flusher) String() string {
	return "audit-flusher"
}

// Serve implements suture.Service. It flushes on every tick or Signal and
// once more after ctx is cancelled.
func (f *Flusher) Serve(ctx context.Context) error {
	ticker := time.NewTicker(f.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), f.config.Timeout)
			_, _ = f.Flush(final)
			cancel()
			return ctx.Err()
		case <-ticker.C:
		case <-f.wake:
		}
		_, _ = f.Flush(ctx)
	}
}

// Signal asks for a flush without waiting for the next tick
func (f *Flusher) Signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Flush writes everything appended since the last successful flush and
// returns how many records were delivered.
func (f *Flusher) Flush(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delivered := 0
	for {
		recs, next, lost := f.ring.Since(f.cursor.Load(), f.config.BatchSize)
		if lost > 0 {
			f.lost.Add(lost)
			f.log.Warn().Uint64("lost", lost).Msg("Audit records overwritten before they were flushed")
			// skip past them even if the write below fails
			f.cursor.Add(lost)
		}
		if len(recs) == 0 {
			return delivered, nil
		}

		wctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
		err := f.sink.Write(wctx, recs)
		cancel()
		if err != nil {
			f.failed.Add(1)
			metrics.AuditFlushErrors.WithLabelValues(f.name).Inc()
			f.complaint.Do(func() {
				f.log.Error().Err(err).Str("sink", f.name).Int("batch", len(recs)).
					Msg("Audit sink write failed, will retry")
			})
			return delivered, fmt.Errorf("audit: flush to %s: %w", f.name, err)
		}

		f.cursor.Store(next)
		delivered += len(recs)
		metrics.AuditFlushed.WithLabelValues(f.name).Add(float64(len(recs)))

		if len(recs) < f.config.BatchSize {
			return delivered, nil
		}
	}
}

// FlusherStats is a point-in-time view for health output
type FlusherStats struct {
	Cursor   uint64 `json:"cursor"`
	Pending  uint64 `json:"pending"`
	Lost     uint64 `json:"lost"`
	Failures uint64 `json:"failures"`
	Sink     string `json:"sink"`
}

func (f *Flusher) Stats() FlusherStats {
	cursor := f.cursor.Load()
	last := f.ring.LastSeq()
	var pending uint64
	if last > cursor {
		pending = last - cursor
	}
	return FlusherStats{
		Cursor:   cursor,
		Pending:  pending,
		Lost:     f.lost.Load(),
		Failures: f.failed.Load(),
		Sink:     f.name,
	}
}
