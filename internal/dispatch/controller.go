// Package dispatch owns the job table and coordinates status watchers, the
// auto submitter and the run follower.
//
// All table mutations happen on a single event loop goroutine. Watchers
// deliver updates over a channel and other callers hand the loop closures
// through do; neither touches the table directly.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sacla-sfx/cheetah-dispatch/internal/autosubmit"
	"github.com/sacla-sfx/cheetah-dispatch/internal/constants"
	"github.com/sacla-sfx/cheetah-dispatch/internal/events"
	"github.com/sacla-sfx/cheetah-dispatch/internal/follower"
	"github.com/sacla-sfx/cheetah-dispatch/internal/jobdir"
	"github.com/sacla-sfx/cheetah-dispatch/internal/logging"
	"github.com/sacla-sfx/cheetah-dispatch/internal/models"
	"github.com/sacla-sfx/cheetah-dispatch/internal/planner"
	"github.com/sacla-sfx/cheetah-dispatch/internal/queue"
	"github.com/sacla-sfx/cheetah-dispatch/internal/runinfo"
	"github.com/sacla-sfx/cheetah-dispatch/internal/state"
	"github.com/sacla-sfx/cheetah-dispatch/internal/status"
)

var (
	// ErrOutOfBounds is returned for ranges holding too many runs.
	ErrOutOfBounds = errors.New("too many runs to submit")
	// ErrKillFailed is returned when a job could not be cancelled.
	ErrKillFailed = errors.New("failed to kill job")
	// ErrFollowing is returned for manual submissions while following runs.
	ErrFollowing = errors.New("run follower is active")
	// ErrNotRunning is returned by table operations before Start or after
	// Shutdown.
	ErrNotRunning = errors.New("dispatcher is not running")
	// ErrFollowUnavailable is returned when no readiness oracle is set.
	ErrFollowUnavailable = errors.New("run following is not configured")
)

// Options configure a Controller.
type Options struct {
	Root           string
	Quick          bool
	MaxWatchers    int
	WatchInterval  time.Duration
	RescanInterval time.Duration
	FollowInterval time.Duration

	// Script holds the script values shared by every job: queue name,
	// camera length, tool paths, CrystFEL arguments.
	Script jobdir.ScriptParams

	// SnapshotPath, when set, receives a CSV copy of the table after each
	// rescan and on shutdown.
	SnapshotPath string
}

// Deps are the collaborators of a Controller. Oracle and Scheduler are
// optional.
type Deps struct {
	Planner   *planner.Planner
	Queue     queue.Queue
	Oracle    runinfo.Oracle
	Scheduler *autosubmit.Scheduler
	Bus       *events.EventBus
	Logger    *logging.Logger
}

// Params are the per-submission processing parameters.
type Params struct {
	MaxI       int        `json:"max_i" yaml:"max_i"`
	Station    int        `json:"station" yaml:"station"`
	Thresholds [3]float64 `json:"thresholds" yaml:"thresholds"`
}

func (p Params) request(run int) planner.Request {
	return planner.Request{Run: run, MaxI: p.MaxI, Station: p.Station, Thresholds: p.Thresholds}
}

// Controller is the dispatcher core.
type Controller struct {
	opts      Options
	planner   *planner.Planner
	queue     queue.Queue
	scheduler *autosubmit.Scheduler
	follower  *follower.Follower
	snapshot  *state.Manager
	bus       *events.EventBus
	logger    *logging.Logger

	ops     chan func()
	updates chan status.Update

	// Owned by the loop goroutine.
	loopCtx  context.Context
	rows     []*models.Row
	index    map[models.JobID]int
	watchers map[models.JobID]*status.Watcher
	waiting  []models.JobID

	followMu     sync.Mutex
	followParams Params

	started  atomic.Bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	done     chan struct{}
	runErr   error
	stopOnce sync.Once
}

// New creates a controller. Call Start to begin monitoring.
func New(opts Options, deps Deps) *Controller {
	if opts.MaxWatchers <= 0 {
		opts.MaxWatchers = constants.DefaultMaxWatchers
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = constants.WatchInterval
	}
	if opts.RescanInterval <= 0 {
		opts.RescanInterval = constants.RescanInterval
	}
	if deps.Planner == nil {
		deps.Planner = planner.New(planner.Options{})
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}

	c := &Controller{
		opts:      opts,
		planner:   deps.Planner,
		queue:     deps.Queue,
		scheduler: deps.Scheduler,
		bus:       deps.Bus,
		logger:    deps.Logger,
		ops:       make(chan func()),
		updates:   make(chan status.Update, 64),
		index:     make(map[models.JobID]int),
		watchers:  make(map[models.JobID]*status.Watcher),
		loopDone:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	if deps.Oracle != nil {
		c.follower = follower.New(deps.Oracle, c.submitFollowed, opts.FollowInterval, deps.Bus, deps.Logger)
	}
	if opts.SnapshotPath != "" {
		c.snapshot = state.NewManager(opts.SnapshotPath)
	}
	return c
}

// Start launches the event loop, the periodic rescan, the follower and the
// auto submitter. The first rescan runs immediately.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	c.loopCtx = gctx

	g.Go(func() error { return c.loop(gctx) })
	g.Go(func() error { return c.rescanLoop(gctx) })
	if c.follower != nil {
		g.Go(func() error { return c.follower.Run(gctx) })
	}
	if c.scheduler != nil {
		if err := c.scheduler.Start(gctx); err != nil {
			cancel()
			g.Wait()
			close(c.done)
			return err
		}
	}

	go func() {
		c.runErr = g.Wait()
		close(c.done)
	}()

	c.logger.Info().
		Str("dir", c.opts.Root).
		Bool("quick", c.opts.Quick).
		Int("max_watchers", c.opts.MaxWatchers).
		Msg("Dispatcher started")
	return nil
}

// Done is closed once the dispatcher has stopped.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Shutdown stops following, cancels and joins every watcher, then, when
// flush is set, force-submits the auto submitter's backlog before stopping
// it. ctx limits only the wait for the watchers; the flush is not cut short
// by its deadline. Submitted jobs keep running.
func (c *Controller) Shutdown(ctx context.Context, flush bool) error {
	if !c.started.Load() {
		return nil
	}

	var err error
	c.stopOnce.Do(func() {
		if c.follower != nil {
			c.follower.Stop()
		}
		c.cancel()

		select {
		case <-c.done:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}

		if c.scheduler != nil {
			if flush {
				// ctx bounds stopping the loop; the flush runs until the
				// backlog is submitted.
				n, ferr := c.scheduler.CheckAndSubmit(context.WithoutCancel(ctx), true)
				if ferr != nil {
					c.logger.Error().Err(ferr).Msg("Flushing remaining jobs failed")
					err = ferr
				}
				c.logger.Info().Int("submitted", n).Msg("Flushed remaining jobs")
			}
			c.scheduler.Stop()
		}
		if err == nil {
			err = c.runErr
		}
		c.logger.Info().Msg("Dispatcher stopped")
	})
	return err
}

func (c *Controller) loop(ctx context.Context) error {
	defer close(c.loopDone)
	defer c.stopWatchers()

	for {
		select {
		case <-ctx.Done():
			return nil
		case op := <-c.ops:
			op()
		case u := <-c.updates:
			c.onWatcherUpdate(u)
		}
	}
}

// do runs fn on the loop goroutine and waits for it to complete.
func (c *Controller) do(ctx context.Context, fn func()) error {
	if !c.started.Load() {
		return ErrNotRunning
	}
	done := make(chan struct{})
	op := func() {
		fn()
		close(done)
	}
	select {
	case c.ops <- op:
	case <-c.loopDone:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (c *Controller) stopWatchers() {
	for id, w := range c.watchers {
		w.Stop()
		delete(c.watchers, id)
		if i, ok := c.index[id]; ok {
			c.rows[i].Monitored = false
		}
	}
	c.saveSnapshot()
	c.logger.Debug().Int("rows", len(c.rows)).Msg("Watchers stopped")
}

// register appends a row for id unless it is already known.
func (c *Controller) register(id models.JobID) bool {
	if _, ok := c.index[id]; ok {
		return false
	}
	row := &models.Row{Index: len(c.rows), JobID: id}
	c.rows = append(c.rows, row)
	c.index[id] = row.Index
	c.bus.PublishRegistered(id, row.Index)

	c.logger.Debug().Str("job_id", id.String()).Int("row", row.Index).Msg("Job registered")
	c.watch(row)
	return true
}

// watch starts a watcher for row, or queues it when the arena is full.
func (c *Controller) watch(row *models.Row) {
	if len(c.watchers) >= c.opts.MaxWatchers {
		c.waiting = append(c.waiting, row.JobID)
		return
	}
	w := status.NewWatcher(row.JobID, jobdir.New(c.opts.Root, row.JobID).Path(),
		c.opts.WatchInterval, c.updates, c.logger)
	c.watchers[row.JobID] = w
	row.Monitored = true
	w.Start(c.loopCtx)
}

// fillWatchers starts watchers for queued rows while capacity remains.
func (c *Controller) fillWatchers() {
	for len(c.waiting) > 0 && len(c.watchers) < c.opts.MaxWatchers {
		id := c.waiting[0]
		c.waiting = c.waiting[1:]
		if _, running := c.watchers[id]; running {
			continue
		}
		c.watch(c.rows[c.index[id]])
	}
}

func (c *Controller) onWatcherUpdate(u status.Update) {
	i, ok := c.index[u.JobID]
	if !ok {
		c.logger.Debug().Str("job_id", u.JobID.String()).Msg("Discarding update for unknown job")
		return
	}
	row := c.rows[i]
	rec := u.Record
	row.Record = &rec
	row.UpdatedAt = time.Now()
	c.bus.PublishStatus(u.JobID, i, rec)

	if !rec.Terminal() {
		return
	}
	if w, ok := c.watchers[u.JobID]; ok {
		w.Stop()
		delete(c.watchers, u.JobID)
	}
	row.Monitored = false
	c.logger.Info().
		Str("job_id", u.JobID.String()).
		Str("status", rec.Status).
		Str("indexed", rec.Indexed).
		Msg("Job reached a final state")
	c.fillWatchers()
}

// RegisterExisting adds a row for id. It is a no-op for known identities.
func (c *Controller) RegisterExisting(ctx context.Context, id models.JobID) (bool, error) {
	if !models.IsJobID(id.String()) {
		return false, fmt.Errorf("invalid job identity %q", id)
	}
	var added bool
	err := c.do(ctx, func() { added = c.register(id) })
	return added, err
}

// Rescan registers every job directory under the work root that is not in
// the table yet and returns how many were added.
func (c *Controller) Rescan(ctx context.Context) (int, error) {
	ids, err := jobdir.Scan(c.opts.Root)
	if err != nil {
		return 0, err
	}

	added := 0
	err = c.do(ctx, func() {
		for _, id := range ids {
			if c.register(id) {
				added++
			}
		}
		c.fillWatchers()
		c.saveSnapshot()
	})
	if added > 0 {
		c.logger.Info().Int("added", added).Msg("Found new job directories")
	}
	return added, err
}

func (c *Controller) rescanLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.RescanInterval)
	defer ticker.Stop()

	for {
		if _, err := c.Rescan(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, ErrNotRunning) {
			c.logger.Warn().Err(err).Msg("Rescan failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Controller) saveSnapshot() {
	if c.snapshot == nil {
		return
	}
	if err := c.snapshot.Save(c.copyRows()); err != nil {
		c.logger.Warn().Err(err).Str("path", c.snapshot.Path()).Msg("Failed to save table snapshot")
	}
}

func (c *Controller) copyRows() []models.Row {
	out := make([]models.Row, len(c.rows))
	for i, r := range c.rows {
		out[i] = *r
		if r.Record != nil {
			rec := *r.Record
			out[i].Record = &rec
		}
	}
	return out
}

// Snapshot returns a copy of the table in row order.
func (c *Controller) Snapshot(ctx context.Context) ([]models.Row, error) {
	var rows []models.Row
	err := c.do(ctx, func() { rows = c.copyRows() })
	return rows, err
}

// Row returns the current row of id.
func (c *Controller) Row(ctx context.Context, id models.JobID) (models.Row, bool, error) {
	var (
		row   models.Row
		found bool
	)
	err := c.do(ctx, func() {
		i, ok := c.index[id]
		if !ok {
			return
		}
		found = true
		row = *c.rows[i]
		if row.Record != nil {
			rec := *row.Record
			row.Record = &rec
		}
	})
	return row, found, err
}

// WatcherCount returns the number of running and queued watchers.
func (c *Controller) WatcherCount(ctx context.Context) (running, queued int, err error) {
	err = c.do(ctx, func() {
		running = len(c.watchers)
		queued = len(c.waiting)
	})
	return running, queued, err
}

// Summary sums the counters of the given jobs, or of the whole table when
// ids is empty.
func (c *Controller) Summary(ctx context.Context, ids ...models.JobID) (Summary, error) {
	rows, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return Summarize(rows), nil
	}
	want := make(map[models.JobID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	selected := rows[:0]
	for _, r := range rows {
		if want[r.JobID] {
			selected = append(selected, r)
		}
	}
	return Summarize(selected), nil
}
