// Package follower submits runs as soon as the facility reports them ready.
package follower

import (
	"context"
	"sync"
	"time"

	"github.com/sacla-sfx/cheetah-dispatch/internal/constants"
	"github.com/sacla-sfx/cheetah-dispatch/internal/events"
	"github.com/sacla-sfx/cheetah-dispatch/internal/logging"
	"github.com/sacla-sfx/cheetah-dispatch/internal/runinfo"
)

// SubmitFunc submits all jobs of one run.
type SubmitFunc func(ctx context.Context, run int) error

// Follower is either off or following a cursor run number. Each tick asks
// the oracle whether the cursor run is ready and, if so, submits it and
// moves to the next run.
type Follower struct {
	oracle   runinfo.Oracle
	submit   SubmitFunc
	interval time.Duration
	bus      *events.EventBus
	logger   *logging.Logger

	mu        sync.Mutex
	following bool
	cursor    int
}

// New creates a follower in the off state.
func New(oracle runinfo.Oracle, submit SubmitFunc, interval time.Duration, bus *events.EventBus, logger *logging.Logger) *Follower {
	if interval <= 0 {
		interval = constants.FollowInterval
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Follower{
		oracle:   oracle,
		submit:   submit,
		interval: interval,
		bus:      bus,
		logger:   logger,
	}
}

// Start follows from run. Calling Start while following moves the cursor.
func (f *Follower) Start(run int) {
	f.mu.Lock()
	f.following = true
	f.cursor = run
	f.mu.Unlock()

	f.logger.Info().Int("run", run).Msg("Following runs")
	f.bus.PublishFollow(true, run)
}

// Stop returns to the off state.
func (f *Follower) Stop() {
	f.mu.Lock()
	was, cursor := f.following, f.cursor
	f.following = false
	f.mu.Unlock()

	if was {
		f.logger.Info().Int("run", cursor).Msg("Stopped following runs")
		f.bus.PublishFollow(false, cursor)
	}
}

// Following returns the cursor and whether the follower is on.
func (f *Follower) Following() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, f.following
}

// Tick checks the cursor run once. It reports whether a run was submitted.
// Query failures leave the cursor unchanged.
func (f *Follower) Tick(ctx context.Context) (bool, error) {
	run, on := f.Following()
	if !on {
		return false, nil
	}

	ready, err := f.oracle.Ready(ctx, run)
	if err != nil {
		f.logger.Warn().Err(err).Int("run", run).Msg("Run readiness query failed")
		return false, err
	}
	if !ready {
		return false, nil
	}

	f.logger.Info().Int("run", run).Msg("Run became ready")
	if err := f.submit(ctx, run); err != nil {
		f.logger.Error().Err(err).Int("run", run).Msg("Failed to submit followed run")
		f.bus.PublishError("", "follow", err)
	}

	f.mu.Lock()
	advanced := f.following && f.cursor == run
	if advanced {
		f.cursor = run + 1
	}
	next := f.cursor
	f.mu.Unlock()

	if advanced {
		f.bus.PublishFollow(true, next)
	}
	return true, nil
}

// Run ticks until ctx is done.
func (f *Follower) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.Tick(ctx)
		}
	}
}
