// Package autoban keeps time-limited bans with escalating durations for
// repeat offenders.
package autoban

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"rhinoguard/waf/clock"
	"rhinoguard/waf/verdict"
)

type Config struct {
	BaseDuration     time.Duration
	EscalationFactor float64
	MaxDuration      time.Duration
	// Grace is how long after expiry a new violation still counts as a
	// repeat offence. Zero means BaseDuration.
	Grace  time.Duration
	Shards int
}

// Entry is the ban state of one client. A client with no entry is clean.
type Entry struct {
	ExpiresAt     time.Time
	Strikes       int
	Reason        verdict.Reason
	LastViolation time.Time
}

// Remaining returns how long the ban still runs at now, zero if expired
func (e Entry) Remaining(now time.Time) time.Duration {
	if !now.Before(e.ExpiresAt) {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}

// Ban is an entry together with its client, as listed by Table.List
type Ban struct {
	Client    string         `json:"client"`
	ExpiresAt time.Time      `json:"expires_at"`
	Remaining time.Duration  `json:"remaining"`
	Strikes   int            `json:"strikes"`
	Reason    verdict.Reason `json:"reason"`
	Active    bool           `json:"active"`
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

type Table struct {
	config atomic.Pointer[Config]
	clock  clock.Clock
	shards []*shard
	mask   uint64
}

func (c Config) withDefaults() Config {
	if c.BaseDuration <= 0 {
		c.BaseDuration = 30 * time.Second
	}
	if c.EscalationFactor <= 1 {
		c.EscalationFactor = 2
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 5 * time.Minute
	}
	if c.MaxDuration < c.BaseDuration {
		c.MaxDuration = c.BaseDuration
	}
	if c.Grace <= 0 {
		c.Grace = c.BaseDuration
	}
	if c.Shards <= 0 {
		c.Shards = 64
	}
	n := 1
	for n < c.Shards {
		n <<= 1
	}
	c.Shards = n
	return c
}

func NewTable(config Config, c clock.Clock) *Table {
	config = config.withDefaults()

	t := &Table{
		clock:  clock.OrReal(c),
		shards: make([]*shard, config.Shards),
		mask:   uint64(config.Shards - 1),
	}
	for i := range t.shards {
		t.shards[i] = &shard{entries: make(map[string]*Entry)}
	}
	t.config.Store(&config)
	return t
}

func (t *Table) shardFor(id string) *shard {
	return t.shards[xxhash.Sum64String(id)&t.mask]
}

func (t *Table) Config() Config {
	return *t.config.Load()
}

// Reconfigure changes durations for violations recorded from now on.
// Existing entries keep their expiry.
func (t *Table) Reconfigure(config Config) {
	config.Shards = len(t.shards)
	config = config.withDefaults()
	t.config.Store(&config)
}

// IsBanned reports whether id is banned at now and for how much longer.
// It never modifies the table.
func (t *Table) IsBanned(id string, now time.Time) (bool, time.Duration) {
	s := t.shardFor(id)
	s.mu.RLock()
	e, ok := s.entries[id]
	var remaining time.Duration
	if ok {
		remaining = e.Remaining(now)
	}
	s.mu.RUnlock()

	return remaining > 0, remaining
}

// RecordViolation bans id, escalating if it offended recently.
func (t *Table) RecordViolation(id string, now time.Time, reason verdict.Reason) Entry {
	cfg := t.config.Load()

	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || !now.Before(e.ExpiresAt.Add(cfg.Grace)) {
		e = &Entry{Strikes: 1, ExpiresAt: now.Add(cfg.BaseDuration)}
		s.entries[id] = e
	} else {
		e.Strikes++
		e.ExpiresAt = now.Add(duration(cfg, e.Strikes))
	}
	e.Reason = reason
	e.LastViolation = now

	return *e
}

// Duration returns the ban length for a given strike count:
// base * factor^strikes capped at MaxDuration. One strike is always base.
func (t *Table) Duration(strikes int) time.Duration {
	return duration(t.config.Load(), strikes)
}

func duration(cfg *Config, strikes int) time.Duration {
	if strikes <= 1 {
		return cfg.BaseDuration
	}
	d := float64(cfg.BaseDuration) * math.Pow(cfg.EscalationFactor, float64(strikes))
	if math.IsNaN(d) || d >= float64(cfg.MaxDuration) {
		return cfg.MaxDuration
	}
	return time.Duration(d)
}

// Get returns a copy of id's entry
func (t *Table) Get(id string) (Entry, bool) {
	s := t.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Unban removes id entirely, strikes included
func (t *Table) Unban(id string) bool {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[id]
	delete(s.entries, id)
	return ok
}

// Sweep deletes entries that expired more than Grace ago, one shard at a time
func (t *Table) Sweep(now time.Time) int {
	grace := t.config.Load().Grace
	removed := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for id, e := range s.entries {
			if !now.Before(e.ExpiresAt.Add(grace)) {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len counts entries, active or in grace
func (t *Table) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Active counts clients banned at now
func (t *Table) Active(now time.Time) int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			if now.Before(e.ExpiresAt) {
				n++
			}
		}
		s.mu.RUnlock()
	}
	return n
}

// List returns every entry, longest remaining ban first
func (t *Table) List(now time.Time) []Ban {
	var bans []Ban
	for _, s := range t.shards {
		s.mu.RLock()
		for id, e := range s.entries {
			rem := e.Remaining(now)
			bans = append(bans, Ban{
				Client:    id,
				ExpiresAt: e.ExpiresAt,
				Remaining: rem,
				Strikes:   e.Strikes,
				Reason:    e.Reason,
				Active:    rem > 0,
			})
		}
		s.mu.RUnlock()
	}

	sort.Slice(bans, func(i, j int) bool {
		if bans[i].ExpiresAt.Equal(bans[j].ExpiresAt) {
			return bans[i].Client < bans[j].Client
		}
		return bans[i].ExpiresAt.After(bans[j].ExpiresAt)
	})
	return bans
}
