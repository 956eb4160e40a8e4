package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sacla-sfx/cheetah-dispatch/internal/autosubmit"
	"github.com/sacla-sfx/cheetah-dispatch/internal/planner"
)

type fakeQueue struct {
	mu        sync.Mutex
	base      int
	submitted []string
	cancelled []string
}

func (q *fakeQueue) Submit(ctx context.Context, dir, script string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submitted = append(q.submitted, filepath.Base(dir))
	return fmt.Sprintf("%d.sacla", 5000+len(q.submitted)), nil
}

func (q *fakeQueue) Occupancy(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.base + len(q.submitted), nil
}

func (q *fakeQueue) Cancel(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, id)
	return nil
}

func (q *fakeQueue) submittedDirs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.submitted...)
}

type fakeOracle struct {
	mu    sync.Mutex
	ready map[int]bool
}

func (o *fakeOracle) Ready(ctx context.Context, run int) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ready[run], nil
}

type fixture struct {
	root  string
	queue *fakeQueue
	ctrl  *Controller
}

func newFixture(t *testing.T, opts Options, popts planner.Options) *fixture {
	t.Helper()
	root := t.TempDir()
	opts.Root = root
	if opts.WatchInterval == 0 {
		opts.WatchInterval = 10 * time.Millisecond
	}
	if opts.RescanInterval == 0 {
		opts.RescanInterval = time.Hour
	}
	q := &fakeQueue{}
	ctrl := New(opts, Deps{Planner: planner.New(popts), Queue: q})
	return &fixture{root: root, queue: q, ctrl: ctrl}
}

func newFixtureWithDeps(t *testing.T, opts Options, q *fakeQueue, oracle *fakeOracle, sched func(root string) *autosubmit.Scheduler) *fixture {
	t.Helper()
	root := t.TempDir()
	opts.Root = root
	if opts.WatchInterval == 0 {
		opts.WatchInterval = 10 * time.Millisecond
	}
	if opts.RescanInterval == 0 {
		opts.RescanInterval = time.Hour
	}
	deps := Deps{Planner: planner.New(planner.Options{}), Queue: q}
	if oracle != nil {
		deps.Oracle = oracle
	}
	if sched != nil {
		deps.Scheduler = sched(root)
	}
	return &fixture{root: root, queue: q, ctrl: New(opts, deps)}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.ctrl.Shutdown(ctx, false)
	})
}

func (f *fixture) mkdir(t *testing.T, id string) string {
	t.Helper()
	dir := filepath.Join(f.root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func (f *fixture) write(t *testing.T, id, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.root, id, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) exists(id string) bool {
	_, err := os.Stat(filepath.Join(f.root, id))
	return err == nil
}

func (f *fixture) hasMarker(id string) bool {
	_, err := os.Stat(filepath.Join(f.root, id, "job.id"))
	return err == nil
}
