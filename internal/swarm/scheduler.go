package swarm

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Scheduler drives the two choking timers of a swarm.
type Scheduler struct {
	swarm      *Swarm
	unchoking  time.Duration
	optimistic time.Duration
}

// NewScheduler uses the configured intervals unless overridden by a
// positive duration.
func NewScheduler(s *Swarm, unchoking, optimistic time.Duration) *Scheduler {
	if unchoking <= 0 {
		unchoking = s.common.UnchokingPeriod()
	}
	if optimistic <= 0 {
		optimistic = s.common.OptimisticUnchokingPeriod()
	}
	return &Scheduler{swarm: s, unchoking: unchoking, optimistic: optimistic}
}

// Run fires both timers immediately and then periodically until ctx is done
// or every peer has the file.
func (sc *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sc.every(ctx, sc.unchoking, func() {
			sc.swarm.RecomputePreferredNeighbors()
			sc.swarm.logUnfinished()
		})
	})
	g.Go(func() error {
		return sc.every(ctx, sc.optimistic, func() {
			sc.swarm.PickOptimisticNeighbor()
		})
	})
	return g.Wait()
}

func (sc *Scheduler) every(ctx context.Context, period time.Duration, fn func()) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		if sc.swarm.ForceExit() {
			return nil
		}
		fn()
		select {
		case <-ctx.Done():
			return nil
		case <-sc.swarm.Done():
			return nil
		case <-ticker.C:
		}
	}
}
