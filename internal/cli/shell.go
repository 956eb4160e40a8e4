package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sacla-sfx/cheetah-dispatch/internal/autosubmit"
	"github.com/sacla-sfx/cheetah-dispatch/internal/dispatch"
	"github.com/sacla-sfx/cheetah-dispatch/internal/models"
)

// errQuit is returned by the shell when the operator asks to stop.
var errQuit = errors.New("quit")

const shellHelp = `Commands:
  <spec> | submit <spec>   submit N, N-M, or follow from N with N-
  follow <N>               follow runs from N
  stop                     stop following
  check                    ask now whether the followed run is ready
  kill <job> [job...]      cancel queued jobs
  status                   print the job table
  summary [job...]         sum counters by job type
  rescan                   look for new job directories now
  flush                    submit every deferred job regardless of the cap
  params                   show the processing parameters in use
  set <name> <value>       change maxi, station, pd1, pd2 or pd3
  quit                     stop the dispatcher`

// shell interprets operator commands read while the dispatcher runs.
type shell struct {
	ctrl      *dispatch.Controller
	scheduler *autosubmit.Scheduler
	params    dispatch.Params
	out       io.Writer
}

// Serve executes commands from lines until the channel closes, the
// operator quits or ctx is done.
func (s *shell) Serve(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := s.Exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(s.out, "Error: %v\n", err)
			}
		}
	}
}

// Exec runs a single command line.
func (s *shell) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		fmt.Fprintln(s.out, shellHelp)
		return nil
	case "submit":
		if len(args) != 1 {
			return fmt.Errorf("usage: submit <spec>")
		}
		return s.submit(ctx, args[0])
	case "follow":
		if len(args) != 1 {
			return fmt.Errorf("usage: follow <N>")
		}
		return s.submit(ctx, strings.TrimSuffix(args[0], "-")+"-")
	case "stop":
		s.ctrl.StopFollow()
		fmt.Fprintln(s.out, "Stopped following runs")
		return nil
	case "check":
		return s.check(ctx)
	case "kill":
		if len(args) == 0 {
			return fmt.Errorf("usage: kill <job> [job...]")
		}
		return s.kill(ctx, args)
	case "status":
		rows, err := s.ctrl.Snapshot(ctx)
		if err != nil {
			return err
		}
		return writeTable(s.out, rows)
	case "summary":
		ids, err := parseJobIDs(args)
		if err != nil {
			return err
		}
		sum, err := s.ctrl.Summary(ctx, ids...)
		if err != nil {
			return err
		}
		return sum.WriteText(s.out)
	case "rescan":
		n, err := s.ctrl.Rescan(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Found %d new job directories\n", n)
		return nil
	case "flush":
		if s.scheduler == nil {
			return fmt.Errorf("auto submission is not enabled")
		}
		n, err := s.scheduler.CheckAndSubmit(ctx, true)
		fmt.Fprintf(s.out, "Submitted %d deferred jobs\n", n)
		return err
	case "params":
		fmt.Fprintf(s.out, "maxi=%d station=%d pd1=%g pd2=%g pd3=%g\n",
			s.params.MaxI, s.params.Station, s.params.Thresholds[0], s.params.Thresholds[1], s.params.Thresholds[2])
		return nil
	case "set":
		if len(args) != 2 {
			return fmt.Errorf("usage: set <name> <value>")
		}
		return s.set(args[0], args[1])
	}

	if len(fields) == 1 && name[0] >= '0' && name[0] <= '9' {
		return s.submit(ctx, fields[0])
	}
	return fmt.Errorf("unknown command %q (type help)", name)
}

func (s *shell) submit(ctx context.Context, spec string) error {
	if err := s.ctrl.SubmitManual(ctx, spec, s.params); err != nil {
		return err
	}
	if rs, _ := dispatch.ParseRunSpec(spec); rs.Kind == dispatch.SpecFollow {
		fmt.Fprintf(s.out, "Following runs from %d\n", rs.First)
	}
	return nil
}

// check runs one follower step without waiting for the next tick.
func (s *shell) check(ctx context.Context) error {
	run, _ := s.ctrl.Following()
	submitted, err := s.ctrl.FollowTick(ctx)
	if err != nil {
		return err
	}
	next, on := s.ctrl.Following()
	switch {
	case submitted:
		fmt.Fprintf(s.out, "Submitted run %d; waiting for run %d\n", run, next)
	case !on:
		fmt.Fprintln(s.out, "Not following runs")
	default:
		fmt.Fprintf(s.out, "Run %d is not ready yet\n", run)
	}
	return nil
}

func (s *shell) kill(ctx context.Context, args []string) error {
	ids, err := parseJobIDs(args)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		qid, err := s.ctrl.KillJob(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(s.out, "Killed %s (%s)\n", id, qid)
	}
	return errors.Join(errs...)
}

func (s *shell) set(name, value string) error {
	var v float64
	if _, err := fmt.Sscanf(value, "%g", &v); err != nil || v < 0 {
		return fmt.Errorf("invalid value %q for %s", value, name)
	}
	switch strings.ToLower(name) {
	case "maxi":
		s.params.MaxI = int(v)
	case "station":
		s.params.Station = int(v)
	case "pd1":
		s.params.Thresholds[0] = v
	case "pd2":
		s.params.Thresholds[1] = v
	case "pd3":
		s.params.Thresholds[2] = v
	default:
		return fmt.Errorf("unknown parameter %q", name)
	}
	return nil
}

func parseJobIDs(args []string) ([]models.JobID, error) {
	ids := make([]models.JobID, 0, len(args))
	for _, a := range args {
		id, err := models.ParseJobID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
