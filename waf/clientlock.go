package waf

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// clientLocks serializes the ban and rate bookkeeping of one client so a
// burst cannot slip past the ban check and pile up strikes. Different
// clients only wait on each other when they hash to the same slot.
type clientLocks struct {
	slots []sync.Mutex
	mask  uint64
}

func newClientLocks(n int) *clientLocks {
	size := 1
	for size < n {
		size <<= 1
	}
	return &clientLocks{
		slots: make([]sync.Mutex, size),
		mask:  uint64(size - 1),
	}
}

func (l *clientLocks) lock(id string) *sync.Mutex {
	mu := &l.slots[xxhash.Sum64String(id)&l.mask]
	mu.Lock()
	return mu
}
