package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/sacla-sfx/cheetah-dispatch/internal/events"
	"github.com/sacla-sfx/cheetah-dispatch/internal/models"
)

// JobTableUI renders one line per job. On a terminal every job gets an
// mpb bar of processed frames; otherwise a text line is printed whenever a
// job changes status.
type JobTableUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool

	bus *events.EventBus
	sub <-chan events.Event

	mu   sync.Mutex
	bars map[models.JobID]*jobBar
	last map[models.JobID]string
}

type jobBar struct {
	bar   *mpb.Bar
	cells atomic.Value // models.Cells
	total int64
}

// NewJobTableUI creates a table on stderr.
func NewJobTableUI() *JobTableUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	if isTerminal {
		enableANSIOnWindows(os.Stderr)
	}
	return newJobTableUI(os.Stderr, isTerminal)
}

func newJobTableUI(out io.Writer, isTerminal bool) *JobTableUI {
	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(60),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}
	return &JobTableUI{
		progress:   p,
		out:        out,
		isTerminal: isTerminal,
		bars:       make(map[models.JobID]*jobBar),
		last:       make(map[models.JobID]string),
	}
}

// IsTerminal reports whether bars are drawn.
func (u *JobTableUI) IsTerminal() bool {
	return u.isTerminal
}

// Writer returns a writer that prints above the bars.
func (u *JobTableUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.out
}

// Attach subscribes the table to every event published on bus. Call it
// before the events of interest are published.
func (u *JobTableUI) Attach(bus *events.EventBus) {
	u.bus = bus
	u.sub = bus.SubscribeAll()
}

// Run renders attached events until ctx is done or the bus is closed, then
// drops the subscription.
func (u *JobTableUI) Run(ctx context.Context) {
	if u.bus == nil {
		return
	}
	defer u.bus.UnsubscribeAll(u.sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-u.sub:
			if !ok {
				return
			}
			u.Handle(ev)
		}
	}
}

// Handle renders a single event.
func (u *JobTableUI) Handle(ev events.Event) {
	switch e := ev.(type) {
	case *events.StatusEvent:
		u.updateStatus(e.JobID, e.Record)
	case *events.SubmittedEvent:
		msg := fmt.Sprintf("Submitted %s as %s", e.JobID, e.QueueJobID)
		if e.AutoSubmit {
			msg += fmt.Sprintf(" (auto, %d in queue)", e.Occupancy+1)
		}
		if e.Forced {
			msg += " (forced)"
		}
		u.println(msg)
	case *events.KilledEvent:
		u.println(fmt.Sprintf("Killed %s (%s)", e.JobID, e.QueueJobID))
	case *events.FollowEvent:
		if e.Following {
			u.println(fmt.Sprintf("Waiting for run %d", e.Cursor))
		} else {
			u.println("Stopped following runs")
		}
	case *events.ErrorEvent:
		if e.JobID != "" {
			u.println(fmt.Sprintf("Error: %s %s: %v", e.JobID, e.Stage, e.Error))
		} else {
			u.println(fmt.Sprintf("Error: %s: %v", e.Stage, e.Error))
		}
	}
}

func (u *JobTableUI) updateStatus(id models.JobID, rec models.StatusRecord) {
	row := models.Row{JobID: id, Record: &rec}
	cells := row.Cells()

	if !u.isTerminal {
		u.mu.Lock()
		changed := u.last[id] != cells.Status
		u.last[id] = cells.Status
		u.mu.Unlock()
		if changed {
			u.println(formatCells(cells))
		}
		return
	}

	jb := u.bar(id)
	jb.cells.Store(cells)
	if total, ok := rec.Int(models.FieldTotal); ok && int64(total) != jb.total {
		jb.total = int64(total)
		jb.bar.SetTotal(jb.total, false)
	}
	if processed, ok := rec.Int(models.FieldProcessed); ok {
		jb.bar.SetCurrent(int64(processed))
	}
	switch {
	case rec.IsError():
		jb.bar.Abort(false)
	case rec.Terminal():
		jb.bar.SetTotal(-1, true)
	}
}

func (u *JobTableUI) bar(id models.JobID) *jobBar {
	u.mu.Lock()
	defer u.mu.Unlock()
	if jb, ok := u.bars[id]; ok {
		return jb
	}

	jb := &jobBar{}
	jb.cells.Store(models.Cells{JobID: id.String(), Status: models.StatusWaiting})
	jb.bar = u.progress.New(0,
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(s decor.Statistics) string {
				c := jb.cells.Load().(models.Cells)
				return fmt.Sprintf("%-14s %-16s", c.JobID, c.Status)
			}, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.Any(func(s decor.Statistics) string {
				c := jb.cells.Load().(models.Cells)
				return fmt.Sprintf("hits %s  indexed %s", orDash(c.Hits), orDash(c.Indexed))
			}, decor.WCSyncSpace),
		),
	)
	u.bars[id] = jb
	return jb
}

func (u *JobTableUI) println(msg string) {
	fmt.Fprintln(u.Writer(), msg)
}

// Shutdown stops rendering. Bars of unfinished jobs are left as drawn.
func (u *JobTableUI) Shutdown() {
	u.progress.Shutdown()
}

func formatCells(c models.Cells) string {
	line := fmt.Sprintf("%-14s %-16s total %s  processed %s  accepted %s  hits %s  indexed %s",
		c.JobID, c.Status, orDash(c.Total), orDash(c.Processed), orDash(c.Accepted), orDash(c.Hits), orDash(c.Indexed))
	if c.Comment != "" {
		line += "  # " + c.Comment
	}
	return line
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
