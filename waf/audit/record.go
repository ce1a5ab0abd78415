// Package audit keeps a bounded, in-memory trail of guard decisions and
// ships it to external sinks in the background.
package audit

import (
	"time"

	"rhinoguard/waf/verdict"
)

type Decision string

const (
	DecisionAllowed Decision = "allowed"
	DecisionBlocked Decision = "blocked"
	DecisionFault   Decision = "fault"
)

// FlagUnresolvedClient marks a record whose client identity fell back to
// the unknown sentinel
const FlagUnresolvedClient = string(verdict.IdentityUnresolvable)

// Record is one guard decision. Seq and ID are assigned by Ring.Append and
// a record never changes after that.
type Record struct {
	Seq       uint64         `json:"seq"`
	ID        string         `json:"id"`
	Time      time.Time      `json:"time"`
	Client    string         `json:"client"`
	Decision  Decision       `json:"decision"`
	Reason    verdict.Reason `json:"reason"`
	Detail    string         `json:"detail,omitempty"`
	Flags     []string       `json:"flags,omitempty"`
	Method    string         `json:"method"`
	Path      string         `json:"path"`
	Status    int            `json:"status"`
	Latency   time.Duration  `json:"latency_ns"`
	RequestID string         `json:"request_id,omitempty"`
}

// HasFlag reports whether flag was set on the record
func (r Record) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
