// Package queue talks to the batch queue through its command line tools.
package queue

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sacla-sfx/cheetah-dispatch/internal/logging"
)

// ErrQuery reports that the queue could not be queried.
var ErrQuery = errors.New("queue query failed")

// Queue is the batch queue as seen by the dispatcher.
type Queue interface {
	// Submit queues script with dir as working directory and returns the
	// queue's job id.
	Submit(ctx context.Context, dir, script string) (string, error)
	// Occupancy returns the number of jobs currently held by the queue.
	Occupancy(ctx context.Context) (int, error)
	// Cancel deletes a queued or running job.
	Cancel(ctx context.Context, queueJobID string) error
}

// Runner executes a command in dir and returns its standard output.
type Runner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec. Standard error is included in the
// returned error.
func ExecRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return out, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Config selects the queue and its commands.
type Config struct {
	Name          string
	SubmitCommand string
	StatusCommand string
	CancelCommand string
}

// PBS drives a PBS/Torque style queue (qsub, qstat, qdel).
type PBS struct {
	cfg    Config
	run    Runner
	logger *logging.Logger
}

// NewPBS creates a PBS queue client. A nil runner uses ExecRunner.
func NewPBS(cfg Config, run Runner, logger *logging.Logger) *PBS {
	if cfg.SubmitCommand == "" {
		cfg.SubmitCommand = "qsub"
	}
	if cfg.StatusCommand == "" {
		cfg.StatusCommand = "qstat"
	}
	if cfg.CancelCommand == "" {
		cfg.CancelCommand = "qdel"
	}
	if run == nil {
		run = ExecRunner
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &PBS{cfg: cfg, run: run, logger: logger}
}

// Name returns the queue name.
func (q *PBS) Name() string { return q.cfg.Name }

// Submit runs "qsub -d <dir> <script>".
func (q *PBS) Submit(ctx context.Context, dir, script string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	out, err := q.run(ctx, abs, q.cfg.SubmitCommand, "-d", abs, script)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return "", fmt.Errorf("%s returned no job id", q.cfg.SubmitCommand)
	}

	q.logger.Debug().
		Str("dir", abs).
		Str("queue_job_id", id).
		Msg("Job queued")
	return id, nil
}

// Occupancy counts the lines of qstat output that mention the queue name.
func (q *PBS) Occupancy(ctx context.Context) (int, error) {
	out, err := q.run(ctx, "", q.cfg.StatusCommand)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return CountMatching(out, q.cfg.Name), nil
}

// Cancel runs "qdel <id>".
func (q *PBS) Cancel(ctx context.Context, queueJobID string) error {
	if queueJobID == "" {
		return errors.New("empty queue job id")
	}
	if _, err := q.run(ctx, "", q.cfg.CancelCommand, queueJobID); err != nil {
		return err
	}
	return nil
}

// CountMatching returns the number of lines in out containing substr.
func CountMatching(out []byte, substr string) int {
	n := 0
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), substr) {
			n++
		}
	}
	return n
}
