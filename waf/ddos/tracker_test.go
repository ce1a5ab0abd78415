package ddos

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rhinoguard/waf/clock"
	"rhinoguard/waf/security"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestRecordAndCheckBlocksAfterMax(t *testing.T) {
	tr := NewTracker(Config{Window: 10 * time.Second, MaxRequests: 5}, nil)

	for i := 1; i <= 5; i++ {
		res := tr.RecordAndCheck("198.51.100.1", epoch.Add(time.Duration(i)*100*time.Millisecond))
		assert.False(t, res.Exceeded, "request %d should be admitted", i)
		assert.Equal(t, i, res.Count)
		assert.Equal(t, 5, res.Limit)
	}

	res := tr.RecordAndCheck("198.51.100.1", epoch.Add(600*time.Millisecond))
	assert.True(t, res.Exceeded)
	assert.Equal(t, 6, res.Count)
}

func TestWindowIsRightOpen(t *testing.T) {
	tr := NewTracker(Config{Window: 10 * time.Second, MaxRequests: 1}, nil)

	assert.False(t, tr.RecordAndCheck("a", epoch).Exceeded)

	// exactly one window later the first timestamp falls out
	res := tr.RecordAndCheck("a", epoch.Add(10*time.Second))
	assert.False(t, res.Exceeded)
	assert.Equal(t, 1, res.Count)

	res = tr.RecordAndCheck("a", epoch.Add(19*time.Second))
	assert.True(t, res.Exceeded)
	assert.Equal(t, 2, res.Count)
}

func TestWindowStaysBounded(t *testing.T) {
	tr := NewTracker(Config{Window: time.Minute, MaxRequests: 3, Shards: 1}, nil)

	for i := 0; i < 100; i++ {
		tr.RecordAndCheck("noisy", epoch.Add(time.Duration(i)*time.Millisecond))
	}

	s := tr.shardFor("noisy")
	assert.LessOrEqual(t, len(s.windows["noisy"]), 4)
	assert.Equal(t, 4, tr.Count("noisy", epoch.Add(time.Second)))
}

func TestUnknownGetsStrictestBudget(t *testing.T) {
	tr := NewTracker(Config{MaxRequests: 20}, nil)
	assert.Equal(t, 5, tr.LimitFor(security.Unknown))
	assert.Equal(t, 20, tr.LimitFor("203.0.113.1"))

	tr = NewTracker(Config{MaxRequests: 2}, nil)
	assert.Equal(t, 1, tr.LimitFor(security.Unknown))

	tr = NewTracker(Config{MaxRequests: 4, UnknownMaxRequests: 50}, nil)
	assert.Equal(t, 4, tr.LimitFor(security.Unknown))
}

func TestDefaultsAndShardRounding(t *testing.T) {
	tr := NewTracker(Config{Shards: 100}, nil)
	cfg := tr.Config()
	assert.Equal(t, 128, cfg.Shards)
	assert.Equal(t, 10*time.Second, cfg.Window)
	assert.Equal(t, 100, cfg.MaxRequests)
	assert.Len(t, tr.shards, 128)
}

func TestSweepRemovesIdleWindows(t *testing.T) {
	tr := NewTracker(Config{Window: 10 * time.Second, MaxRequests: 10}, nil)

	tr.RecordAndCheck("old", epoch)
	tr.RecordAndCheck("fresh", epoch.Add(8*time.Second))
	require.Equal(t, 2, tr.Len())

	removed := tr.Sweep(epoch.Add(12 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, 1, tr.Count("fresh", epoch.Add(12*time.Second)))
	assert.Equal(t, 0, tr.Count("old", epoch.Add(12*time.Second)))
}

func TestRecordUsesClock(t *testing.T) {
	mc := clock.NewManual(epoch)
	tr := NewTracker(Config{Window: time.Second, MaxRequests: 1}, mc)

	assert.False(t, tr.Record("c").Exceeded)
	assert.True(t, tr.Record("c").Exceeded)

	mc.Advance(2 * time.Second)
	assert.False(t, tr.Record("c").Exceeded)
}

func TestReset(t *testing.T) {
	tr := NewTracker(Config{MaxRequests: 1}, nil)
	tr.RecordAndCheck("x", epoch)
	tr.Reset("x")
	assert.Equal(t, 0, tr.Len())
	assert.False(t, tr.RecordAndCheck("x", epoch).Exceeded)
}

func TestConcurrentClientsDoNotInterfere(t *testing.T) {
	const (
		clients  = 50
		requests = 40
	)
	tr := NewTracker(Config{Window: time.Hour, MaxRequests: 1000, Shards: 4}, nil)

	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		for r := 0; r < requests; r++ {
			wg.Add(1)
			go func(id string, r int) {
				defer wg.Done()
				tr.RecordAndCheck(id, epoch.Add(time.Duration(r)*time.Millisecond))
			}(fmt.Sprintf("10.0.0.%d", c), r)
		}
	}
	wg.Wait()

	now := epoch.Add(time.Second)
	for c := 0; c < clients; c++ {
		assert.Equal(t, requests, tr.Count(fmt.Sprintf("10.0.0.%d", c), now))
	}
	assert.Equal(t, clients, tr.Len())
}

func TestReconfigureKeepsWindows(t *testing.T) {
	tr := NewTracker(Config{Window: 10 * time.Second, MaxRequests: 5, Shards: 8}, nil)

	for i := 0; i < 3; i++ {
		tr.RecordAndCheck("a", epoch)
	}

	tr.Reconfigure(Config{Window: 10 * time.Second, MaxRequests: 3, Shards: 1024})
	assert.Equal(t, 8, tr.Config().Shards)
	assert.Equal(t, 3, tr.LimitFor("a"))

	res := tr.RecordAndCheck("a", epoch.Add(time.Second))
	assert.True(t, res.Exceeded)
	assert.Equal(t, 4, res.Count)
}
