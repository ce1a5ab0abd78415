package audit

import (
	"sync"

	"github.com/google/uuid"

	"rhinoguard/waf/metrics"
)

const DefaultCapacity = 10000

// Ring is a fixed-capacity audit buffer. Appends never wait on readers;
// when full the oldest record is overwritten.
type Ring struct {
	mu          sync.Mutex
	buf         []Record
	last        uint64 // Seq of the newest record, 0 when empty
	overwritten uint64
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]Record, capacity)}
}

// Append stores rec and returns it with Seq and ID filled in
func (r *Ring) Append(rec Record) Record {
	rec.ID = uuid.NewString()
	capacity := uint64(len(r.buf))

	r.mu.Lock()
	r.last++
	rec.Seq = r.last
	over := r.last > capacity
	if over {
		r.overwritten++
	}
	r.buf[(rec.Seq-1)%capacity] = rec
	r.mu.Unlock()

	metrics.AuditAppended.Inc()
	if over {
		metrics.AuditOverwritten.Inc()
	}
	return rec
}

// oldest returns the Seq of the oldest retained record. Caller holds mu.
func (r *Ring) oldest() uint64 {
	capacity := uint64(len(r.buf))
	if r.last <= capacity {
		return 1
	}
	return r.last - capacity + 1
}

// Snapshot copies every retained record, oldest first
func (r *Ring) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last == 0 {
		return nil
	}
	return r.copyRange(r.oldest(), r.last)
}

// Since returns up to limit records with Seq > seq, oldest first. next is the
// cursor to pass on the following call and lost counts records after seq
// that were overwritten before they could be read. limit <= 0 means no limit.
func (r *Ring) Since(seq uint64, limit int) (recs []Record, next uint64, lost uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if seq >= r.last {
		return nil, r.last, 0
	}

	start := seq + 1
	if oldest := r.oldest(); start < oldest {
		lost = oldest - start
		start = oldest
	}
	end := r.last
	if limit > 0 && end-start+1 > uint64(limit) {
		end = start + uint64(limit) - 1
	}

	return r.copyRange(start, end), end, lost
}

// Recent returns up to n of the newest records, oldest first
func (r *Ring) Recent(n int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last == 0 || n <= 0 {
		return nil
	}
	start := r.oldest()
	if r.last-start+1 > uint64(n) {
		start = r.last - uint64(n) + 1
	}
	return r.copyRange(start, r.last)
}

func (r *Ring) copyRange(from, to uint64) []Record {
	capacity := uint64(len(r.buf))
	out := make([]Record, 0, to-from+1)
	for s := from; s <= to; s++ {
		out = append(out, r.buf[(s-1)%capacity])
	}
	return out
}

// Len is the number of retained records
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(min(r.last, uint64(len(r.buf))))
}

func (r *Ring) Cap() int {
	return len(r.buf)
}

// Overwritten counts records evicted by newer ones
func (r *Ring) Overwritten() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overwritten
}

// LastSeq is the Seq of the newest record, 0 when empty
func (r *Ring) LastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
