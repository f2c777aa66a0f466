package license

import (
	"context"
	"errors"
	"log"
	"time"
)

// SweeperIdentity is recorded as the admin identity of automatic unlocks.
const SweeperIdentity = "system:auto-unlock"

// Sweeper periodically unlocks entitlements whose auto-unlock window has
// elapsed. It is off unless the operator enables it; without it the 48h
// window is reported by LockStatus only.
type Sweeper struct {
	Guard    *Guard
	Interval time.Duration
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Interval <= 0 {
		return
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	log.Printf("[AutoUnlock] sweeping every %s (window %s)", s.Interval, s.Guard.window)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[AutoUnlock] sweep failed: %v", err)
			}
		}
	}
}

// SweepOnce unlocks every eligible entitlement and returns how many it
// unlocked. An entitlement that changed since it was listed is skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	g := s.Guard
	cutoff := g.now().Add(-g.window)
	locked, err := g.store.ListLocked(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range locked {
		_, err := g.unlock(ctx, e.ID, SweeperIdentity, "auto-unlock window elapsed", func(cur Entitlement, now time.Time) bool {
			return g.lockInfo(cur, now).Eligible
		})
		switch {
		case errors.Is(err, errNoChange):
			continue
		case err != nil:
			return n, err
		}
		n++
	}
	if n > 0 {
		log.Printf("[AutoUnlock] unlocked %d entitlement(s)", n)
	}
	return n, nil
}
