// Package autosubmit submits deferred job directories while keeping the
// batch queue under an occupancy cap.
package autosubmit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sacla-sfx/cheetah-dispatch/internal/constants"
	"github.com/sacla-sfx/cheetah-dispatch/internal/events"
	"github.com/sacla-sfx/cheetah-dispatch/internal/jobdir"
	"github.com/sacla-sfx/cheetah-dispatch/internal/logging"
	"github.com/sacla-sfx/cheetah-dispatch/internal/queue"
)

// State is the scheduler's position in its scan cycle.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateSubmitting
	StateWaiting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateSubmitting:
		return "submitting"
	case StateWaiting:
		return "waiting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrStopped is returned by a cycle interrupted by Stop.
var ErrStopped = errors.New("scheduler stopped")

// Config configures the scheduler.
type Config struct {
	Root         string
	MaxJobs      int
	ScanInterval time.Duration
	Debounce     time.Duration
}

// Scheduler periodically scans the work tree for directories that have a
// script but no submission marker and submits them while the queue holds
// no more than MaxJobs jobs.
type Scheduler struct {
	cfg    Config
	queue  queue.Queue
	bus    *events.EventBus
	logger *logging.Logger

	state    atomic.Int32
	trigger  chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// cycle serializes scan cycles between the loop and forced flushes.
	cycle sync.Mutex

	mu      sync.Mutex
	running bool
}

// New creates a scheduler. Zero durations and caps take the defaults.
func New(cfg Config, q queue.Queue, bus *events.EventBus, logger *logging.Logger) *Scheduler {
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = constants.DefaultMaxJobs
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = constants.AutoSubmitLongWait
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = constants.AutoSubmitShortWait
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Scheduler{
		cfg:      cfg,
		queue:    q,
		bus:      bus,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// State returns the current state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(st State) {
	if s.State() == StateStopped {
		return
	}
	s.state.Store(int32(st))
}

// Start launches the scan loop. The first scan runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == StateStopped {
		return ErrStopped
	}
	if s.running {
		return fmt.Errorf("auto submitter is already running")
	}
	s.running = true

	s.logger.Info().
		Str("dir", s.cfg.Root).
		Int("cap", s.cfg.MaxJobs).
		Str("scan_interval", s.cfg.ScanInterval.String()).
		Msg("Auto submitter starting")

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Trigger requests an immediate scan without blocking.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Stop terminates the loop and waits for it to exit. A stopped scheduler
// cannot be restarted.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		s.state.Store(int32(StateStopped))
		s.logger.Info().Msg("Auto submitter stopped")
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		if _, err := s.CheckAndSubmit(ctx, false); err != nil && !errors.Is(err, ErrStopped) && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("Auto submission cycle aborted")
		}
		s.setState(StateWaiting)

		timer := time.NewTimer(s.cfg.ScanInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopChan:
			timer.Stop()
			return
		case <-s.trigger:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// wait sleeps for d unless the scheduler is stopped or ctx is done.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopChan:
		return ErrStopped
	case <-timer.C:
		return nil
	}
}

// CheckAndSubmit runs one scan cycle and returns the number of jobs
// submitted. Directories are visited in reverse lexicographic order. The
// cycle ends at the first full-queue observation unless force is set, or
// when another submitter is detected. force also skips the debounce wait.
func (s *Scheduler) CheckAndSubmit(ctx context.Context, force bool) (int, error) {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	s.setState(StateScanning)
	defer s.setState(StateIdle)

	ids, err := jobdir.Scan(s.cfg.Root)
	if err != nil {
		return 0, err
	}

	submitted := 0
	for i := len(ids) - 1; i >= 0; i-- {
		d := jobdir.New(s.cfg.Root, ids[i])
		if !d.Pending() {
			continue
		}

		// A forced flush relies on the exclusive marker claim alone.
		if !force {
			if err := s.wait(ctx, s.cfg.Debounce); err != nil {
				return submitted, err
			}
		}
		if d.HasMarker() {
			s.logger.Warn().
				Str("job_id", d.JobID().String()).
				Msg("Job was submitted by someone else; is another dispatcher running?")
			return submitted, nil
		}

		occupancy, err := s.queue.Occupancy(ctx)
		if err != nil {
			s.bus.PublishError(d.JobID(), "occupancy", err)
			return submitted, err
		}
		overCap := occupancy > s.cfg.MaxJobs
		if overCap && !force {
			s.logger.Info().
				Int("occupancy", occupancy).
				Int("cap", s.cfg.MaxJobs).
				Msg("Queue is full, deferring remaining jobs")
			return submitted, nil
		}

		s.setState(StateSubmitting)
		queueID, err := d.SubmitNew(ctx, s.queue)
		if errors.Is(err, jobdir.ErrAlreadySubmitted) {
			s.logger.Warn().
				Str("job_id", d.JobID().String()).
				Msg("Lost submission claim; is another dispatcher running?")
			return submitted, nil
		}
		if err != nil {
			s.bus.PublishError(d.JobID(), "submit", err)
			return submitted, err
		}
		submitted++
		s.setState(StateScanning)

		s.logger.Info().
			Str("job_id", d.JobID().String()).
			Str("queue_job_id", queueID).
			Int("occupancy", occupancy+1).
			Bool("forced", overCap).
			Msg("Submitted deferred job")
		s.bus.PublishSubmitted(d.JobID(), queueID, occupancy, overCap, true)
	}
	return submitted, nil
}
