// Package ddos tracks per-client request rates over a sliding window.
package ddos

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"rhinoguard/waf/clock"
	"rhinoguard/waf/security"
)

// Result is the outcome of recording one request
type Result struct {
	Exceeded bool
	Count    int // requests inside the window, including this one
	Limit    int
}

type shard struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// Tracker keeps a trailing window of request timestamps per client.
// Requests from the same client are serialized on one shard lock; different
// clients only contend when they hash to the same shard.
type Tracker struct {
	config atomic.Pointer[Config]
	clock  clock.Clock
	shards []*shard
	mask   uint64
}

func NewTracker(config Config, c clock.Clock) *Tracker {
	config = config.withDefaults()

	t := &Tracker{
		clock:  clock.OrReal(c),
		shards: make([]*shard, config.Shards),
		mask:   uint64(config.Shards - 1),
	}
	for i := range t.shards {
		t.shards[i] = &shard{windows: make(map[string][]time.Time)}
	}
	t.config.Store(&config)
	return t
}

func (t *Tracker) shardFor(id string) *shard {
	return t.shards[xxhash.Sum64String(id)&t.mask]
}

// Config returns the effective settings after defaults were applied
func (t *Tracker) Config() Config {
	return *t.config.Load()
}

// Reconfigure changes window and limits for subsequent requests. Recorded
// windows are kept; the shard count is fixed at construction.
func (t *Tracker) Reconfigure(config Config) {
	config.Shards = len(t.shards)
	config = config.withDefaults()
	t.config.Store(&config)
}

// LimitFor returns the request budget that applies to id
func (t *Tracker) LimitFor(id string) int {
	return limitFor(t.config.Load(), id)
}

func limitFor(cfg *Config, id string) int {
	if id == security.Unknown {
		return cfg.UnknownMaxRequests
	}
	return cfg.MaxRequests
}

// RecordAndCheck appends now to id's window, prunes everything at or before
// now-Window and reports whether the count went over the limit.
func (t *Tracker) RecordAndCheck(id string, now time.Time) Result {
	cfg := t.config.Load()
	limit := limitFor(cfg, id)
	cutoff := now.Add(-cfg.Window)

	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	w := prune(s.windows[id], cutoff)
	w = append(w, now)
	count := len(w)

	// anything past limit+1 can't change the verdict, drop the oldest
	if surplus := len(w) - (limit + 1); surplus > 0 {
		w = append(w[:0], w[surplus:]...)
	}
	s.windows[id] = w

	return Result{
		Exceeded: count > limit,
		Count:    count,
		Limit:    limit,
	}
}

// Record is RecordAndCheck at the tracker's clock
func (t *Tracker) Record(id string) Result {
	return t.RecordAndCheck(id, t.clock.Now())
}

// Count returns how many requests id has inside the window ending at now.
// It does not record anything.
func (t *Tracker) Count(id string, now time.Time) int {
	cutoff := now.Add(-t.config.Load().Window)

	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, ts := range s.windows[id] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// Reset forgets everything recorded for id
func (t *Tracker) Reset(id string) {
	s := t.shardFor(id)
	s.mu.Lock()
	delete(s.windows, id)
	s.mu.Unlock()
}

// Sweep drops windows with no timestamp inside the window ending at now.
// Shards are locked one at a time.
func (t *Tracker) Sweep(now time.Time) int {
	cutoff := now.Add(-t.config.Load().Window)
	removed := 0

	for _, s := range t.shards {
		s.mu.Lock()
		for id, w := range s.windows {
			w = prune(w, cutoff)
			if len(w) == 0 {
				delete(s.windows, id)
				removed++
				continue
			}
			s.windows[id] = w
		}
		s.mu.Unlock()
	}

	return removed
}

// Len returns the number of tracked clients
func (t *Tracker) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// prune keeps timestamps strictly after cutoff, reusing w's backing array.
func prune(w []time.Time, cutoff time.Time) []time.Time {
	n := 0
	for _, ts := range w {
		if ts.After(cutoff) {
			w[n] = ts
			n++
		}
	}
	return w[:n]
}
