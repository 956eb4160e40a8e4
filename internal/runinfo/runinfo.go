// Package runinfo answers whether a detector run is ready to be processed.
package runinfo

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sacla-sfx/cheetah-dispatch/internal/queue"
)

// Oracle reports run readiness.
type Oracle interface {
	Ready(ctx context.Context, run int) (bool, error)
}

// Config configures the ShowRunInfo query.
type Config struct {
	Command     string
	Beamline    int
	ReadyMarker string
}

// Command queries readiness with "ShowRunInfo -b <beamline> -r <run>". A
// run is ready when the first output line contains the ready marker.
type Command struct {
	cfg Config
	run queue.Runner
}

// NewCommand creates a command-backed oracle. A nil runner uses
// queue.ExecRunner.
func NewCommand(cfg Config, run queue.Runner) *Command {
	if cfg.Command == "" {
		cfg.Command = "ShowRunInfo"
	}
	if cfg.ReadyMarker == "" {
		cfg.ReadyMarker = "Ready to Read"
	}
	if run == nil {
		run = queue.ExecRunner
	}
	return &Command{cfg: cfg, run: run}
}

// Ready implements Oracle.
func (c *Command) Ready(ctx context.Context, run int) (bool, error) {
	out, err := c.run(ctx, "", c.cfg.Command,
		"-b", strconv.Itoa(c.cfg.Beamline),
		"-r", strconv.Itoa(run))
	if err != nil {
		return false, fmt.Errorf("%w: run %d: %v", queue.ErrQuery, run, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	if !scanner.Scan() {
		return false, nil
	}
	return strings.Contains(scanner.Text(), c.cfg.ReadyMarker), nil
}
