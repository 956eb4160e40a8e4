// Package progress reports submission progress and renders the live job
// table on the terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Reporter tracks a multi-run submission.
type Reporter interface {
	Start(total int, description string)
	RunDone(run int, err error)
	Finish()
}

// CLIProgress implements Reporter with a progress bar.
type CLIProgress struct {
	out    io.Writer
	bar    *progressbar.ProgressBar
	failed int
}

// NewCLIProgress creates a reporter writing to stderr.
func NewCLIProgress() *CLIProgress {
	return NewCLIProgressTo(os.Stderr)
}

// NewCLIProgressTo creates a reporter writing to w.
func NewCLIProgressTo(w io.Writer) *CLIProgress {
	return &CLIProgress{out: w}
}

// Start initializes the bar for total runs.
func (p *CLIProgress) Start(total int, description string) {
	p.failed = 0
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// RunDone advances the bar by one run. Failures are printed above it.
func (p *CLIProgress) RunDone(run int, err error) {
	if err != nil {
		p.failed++
		fmt.Fprintf(p.out, "\nrun %d: %v\n", run, err)
	}
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

// Finish completes the bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Failed returns the number of runs reported with an error.
func (p *CLIProgress) Failed() int {
	return p.failed
}

// NoOpProgress is a reporter that does nothing.
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

func (p *NoOpProgress) Start(total int, description string) {}
func (p *NoOpProgress) RunDone(run int, err error)          {}
func (p *NoOpProgress) Finish()                             {}
