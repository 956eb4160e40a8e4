package status

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sacla-sfx/cheetah-dispatch/internal/constants"
	"github.com/sacla-sfx/cheetah-dispatch/internal/logging"
	"github.com/sacla-sfx/cheetah-dispatch/internal/models"
)

// Update is the message a Watcher delivers to its owner.
type Update struct {
	JobID  models.JobID
	Record models.StatusRecord
}

// Watcher polls one job directory and delivers a merged StatusRecord on
// every successful cycle. It stops itself once the record is terminal.
type Watcher struct {
	id       models.JobID
	dir      string
	interval time.Duration
	out      chan<- Update
	logger   *logging.Logger

	comment     string
	haveComment bool

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex
	started   bool
}

// NewWatcher creates a watcher for the job stored in dir. Updates are sent
// on out.
func NewWatcher(id models.JobID, dir string, interval time.Duration, out chan<- Update, logger *logging.Logger) *Watcher {
	if interval <= 0 {
		interval = constants.WatchInterval
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Watcher{
		id:       id,
		dir:      dir,
		interval: interval,
		out:      out,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// JobID returns the identity being watched.
func (w *Watcher) JobID() models.JobID { return w.id }

// Start launches the polling goroutine. A watcher runs at most once.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		w.mu.Lock()
		w.cancel = cancel
		w.started = true
		w.mu.Unlock()
		go w.run(ctx)
	})
}

// Stop cancels the watcher and waits for its goroutine to exit. No update
// is delivered after Stop returns.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, started := w.cancel, w.started
	w.mu.Unlock()
	if !started {
		return
	}
	cancel()
	<-w.done
}

// Done is closed when the watcher has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rec, ok := w.Poll()
		if !ok {
			continue
		}

		select {
		case w.out <- Update{JobID: w.id, Record: rec}:
		case <-ctx.Done():
			return
		}

		if rec.Terminal() {
			w.logger.Debug().Str("job_id", w.id.String()).Str("status", rec.Status).Msg("Watcher finished")
			return
		}
	}
}

// Poll performs a single read cycle. It reports false when the status file
// is missing or not yet decodable.
func (w *Watcher) Poll() (models.StatusRecord, bool) {
	if !w.haveComment {
		if c, ok := ReadComment(filepath.Join(w.dir, constants.RunInfoFileName)); ok {
			w.comment = c
			w.haveComment = true
		}
	}

	rec, err := ReadFile(filepath.Join(w.dir, constants.StatusFileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Debug().Err(err).Str("job_id", w.id.String()).Msg("Status not decodable yet")
		}
		return models.StatusRecord{}, false
	}

	rec.JobID = w.id
	rec.Comment = w.comment
	rec.Indexed = ReadIndexed(filepath.Join(w.dir, constants.IndexedFileName))
	if !rec.HasIndexed() && rec.IsFinished() {
		rec.Status = models.StatusIndexing
		rec.Fields[models.FieldStatus] = models.StatusIndexing
	}
	return rec, true
}
