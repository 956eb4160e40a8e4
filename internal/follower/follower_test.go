package follower

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeOracle struct {
	mu    sync.Mutex
	ready map[int]bool
	err   error
}

func (o *fakeOracle) Ready(ctx context.Context, run int) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return false, o.err
	}
	return o.ready[run], nil
}

func (o *fakeOracle) set(run int) {
	o.mu.Lock()
	o.ready[run] = true
	o.mu.Unlock()
}

type recorder struct {
	mu   sync.Mutex
	runs []int
	err  error
}

func (r *recorder) submit(ctx context.Context, run int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return r.err
}

func (r *recorder) submitted() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.runs...)
}

func TestFollower_Off(t *testing.T) {
	rec := &recorder{}
	f := New(&fakeOracle{ready: map[int]bool{1: true}}, rec.submit, time.Second, nil, nil)

	if ok, err := f.Tick(context.Background()); ok || err != nil {
		t.Errorf("Tick() while off = %v, %v", ok, err)
	}
	if len(rec.submitted()) != 0 {
		t.Error("off follower must not submit")
	}
}

func TestFollower_AdvancesOnlyWhenReady(t *testing.T) {
	oracle := &fakeOracle{ready: map[int]bool{}}
	rec := &recorder{}
	f := New(oracle, rec.submit, time.Second, nil, nil)
	f.Start(100)

	for i := 0; i < 3; i++ {
		f.Tick(context.Background())
	}
	if cursor, _ := f.Following(); cursor != 100 {
		t.Errorf("Expected cursor 100 while not ready, got %d", cursor)
	}

	oracle.set(100)
	oracle.set(101)
	f.Tick(context.Background())
	f.Tick(context.Background())
	f.Tick(context.Background())

	cursor, on := f.Following()
	if !on || cursor != 102 {
		t.Errorf("Expected following at 102, got %d (on=%v)", cursor, on)
	}
	if diff := cmp.Diff([]int{100, 101}, rec.submitted()); diff != "" {
		t.Errorf("submitted runs mismatch (-want +got):\n%s", diff)
	}
}

func TestFollower_QueryFailureKeepsCursor(t *testing.T) {
	oracle := &fakeOracle{ready: map[int]bool{7: true}, err: errors.New("ShowRunInfo: exit status 2")}
	rec := &recorder{}
	f := New(oracle, rec.submit, time.Second, nil, nil)
	f.Start(7)

	if _, err := f.Tick(context.Background()); err == nil {
		t.Fatal("Expected query error")
	}
	if cursor, _ := f.Following(); cursor != 7 {
		t.Errorf("Expected cursor 7, got %d", cursor)
	}
}

func TestFollower_SubmitFailureStillAdvances(t *testing.T) {
	oracle := &fakeOracle{ready: map[int]bool{7: true}}
	rec := &recorder{err: errors.New("job directory already exists")}
	f := New(oracle, rec.submit, time.Second, nil, nil)
	f.Start(7)

	ok, err := f.Tick(context.Background())
	if !ok || err != nil {
		t.Fatalf("Tick() = %v, %v", ok, err)
	}
	if cursor, _ := f.Following(); cursor != 8 {
		t.Errorf("Expected cursor 8, got %d", cursor)
	}
}

func TestFollower_StopReturnsToOff(t *testing.T) {
	f := New(&fakeOracle{ready: map[int]bool{}}, (&recorder{}).submit, time.Second, nil, nil)
	f.Start(3)
	f.Stop()
	if _, on := f.Following(); on {
		t.Error("Expected follower to be off")
	}
}

func TestFollower_Run(t *testing.T) {
	oracle := &fakeOracle{ready: map[int]bool{5: true, 6: true}}
	rec := &recorder{}
	f := New(oracle, rec.submit, 5*time.Millisecond, nil, nil)
	f.Start(5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		cursor, _ := f.Following()
		return cursor == 7
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, []int{5, 6}, rec.submitted())
}
