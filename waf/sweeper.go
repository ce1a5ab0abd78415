package waf

import (
	"context"
	"time"
)

// Sweeper periodically evicts idle state from a Guard. It implements
// suture.Service.
type Sweeper struct {
	guard *Guard
}

func NewSweeper(g *Guard) *Sweeper {
	return &Sweeper{guard: g}
}

func (s *Sweeper) String() string {
	return "sweeper"
}

func (s *Sweeper) Serve(ctx context.Context) error {
	interval := s.guard.Config().Sweep.Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res := s.guard.Sweep(s.guard.clock.Now())
			if res.Windows > 0 || res.Bans > 0 {
				s.guard.log.Debug().
					Int("windows", res.Windows).
					Int("bans", res.Bans).
					Msg("Swept idle state")
			}

			// pick up a reloaded interval
			if iv := s.guard.Config().Sweep.Interval; iv != interval {
				interval = iv
				ticker.Reset(interval)
			}
		}
	}
}
