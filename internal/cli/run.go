package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sacla-sfx/cheetah-dispatch/internal/events"
	"github.com/sacla-sfx/cheetah-dispatch/internal/jobdir"
	"github.com/sacla-sfx/cheetah-dispatch/internal/progress"
)

const shutdownTimeout = 30 * time.Second

// newRunCmd creates the 'run' command.
func newRunCmd() *cobra.Command {
	var (
		qf       queueFlags
		pf       paramFlags
		follow   int
		flush    bool
		table    bool
		snapshot string
	)

	cmd := &cobra.Command{
		Use:   "run [spec...]",
		Short: "Run the dispatcher: monitor jobs, auto-submit, follow runs",
		Long: `Start the dispatcher in the foreground. It registers every job directory
in the work directory, watches their status files, submits deferred jobs while
the queue has room and, with --follow, submits new runs as they become ready.

Run specifications given as arguments are submitted at startup. On a terminal,
commands are read from standard input (type help). Press Ctrl+C to stop.

Examples:
  # Monitor the current directory
  cheetah-dispatch run

  # Submit runs 100 to 110 with children deferred, then keep monitoring
  cheetah-dispatch run --quick 100-110

  # Follow runs from 250 with a light/dark split on sensor 1
  cheetah-dispatch run --follow 250 --pd1 0.2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			qf.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			useConfiguredLogFile(cfg, true)

			session := uuid.NewString()
			log := GetLogger().Child("session", session)

			// The auto submitter only runs in quick mode; eager submissions
			// hand every job to the queue themselves.
			a, err := newApp(cfg, appOptions{snapshot: snapshot, follow: true}, log)
			if err != nil {
				return err
			}
			if err := checkDetectorIni(a.root); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(GetContext())
			defer cancel()

			var ui *progress.JobTableUI
			if table {
				ui = progress.NewJobTableUI()
				if ui.IsTerminal() {
					log.SetOutput(ui.Writer())
				}
				ui.Attach(a.bus)
				go ui.Run(ctx)
			} else {
				reportFollow(ctx, a.bus, os.Stdout)
			}

			if err := a.ctrl.Start(ctx); err != nil {
				return fmt.Errorf("failed to start dispatcher: %w", err)
			}
			log.Info().
				Str("dir", a.root).
				Str("queue", cfg.Queue.Name).
				Int("cap", cfg.Queue.MaxJobs).
				Msg("Dispatcher running")

			params := pf.params(cfg)
			for _, spec := range args {
				if err := a.ctrl.SubmitManual(ctx, spec, params); err != nil {
					log.Error().Err(err).Str("spec", spec).Msg("Submission failed")
				}
			}
			if cmd.Flags().Changed("follow") {
				if err := a.ctrl.StartFollow(follow, params); err != nil {
					log.Error().Err(err).Int("run", follow).Msg("Cannot follow runs")
				}
			}

			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			var lines <-chan string
			if interactive {
				lines = readLines(ctx, os.Stdin)
				sh := &shell{ctrl: a.ctrl, scheduler: a.scheduler, params: params, out: os.Stdout}
				fmt.Fprintln(os.Stdout, "Type help for commands.")
				sh.Serve(ctx, lines)
			} else {
				<-ctx.Done()
			}

			doFlush := flush
			if a.scheduler != nil && !cmd.Flags().Changed("flush") && interactive && ctx.Err() == nil {
				if n := countPending(a.root); n > 0 {
					doFlush, _ = promptYesNo(channelSource(lines), os.Stdout,
						fmt.Sprintf("Submit the %d deferred jobs now?", n), false)
				}
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			err = a.ctrl.Shutdown(shutdownCtx, doFlush)
			if ui != nil {
				ui.Shutdown()
			}
			if n := a.bus.GetDroppedEventCount(); n > 0 {
				log.Warn().Int64("dropped", n).Msg("Some events were not displayed")
			}
			a.bus.Close()
			return err
		},
	}

	qf.bind(cmd)
	pf.bind(cmd)
	cmd.Flags().IntVar(&follow, "follow", 0, "Follow runs starting from this run number")
	cmd.Flags().BoolVar(&flush, "flush", false, "On exit, submit deferred jobs regardless of the queue cap (asked when unset)")
	cmd.Flags().BoolVar(&table, "table", false, "Show a live per-job progress table")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "Write a CSV copy of the job table to this file")

	return cmd
}

// reportFollow prints follower progress to w until ctx is done. It
// subscribes before returning so no event published afterwards is missed.
func reportFollow(ctx context.Context, bus *events.EventBus, w io.Writer) <-chan struct{} {
	ch := bus.Subscribe(events.EventFollow)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer bus.Unsubscribe(events.EventFollow, ch)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				e, ok := ev.(*events.FollowEvent)
				if !ok {
					continue
				}
				if e.Following {
					fmt.Fprintf(w, "Waiting for run %d\n", e.Cursor)
				} else {
					fmt.Fprintf(w, "Stopped following runs at run %d\n", e.Cursor)
				}
			}
		}
	}()
	return done
}

func countPending(root string) int {
	ids, err := jobdir.Scan(root)
	if err != nil {
		return 0
	}
	n := 0
	for _, id := range ids {
		if jobdir.New(root, id).Pending() {
			n++
		}
	}
	return n
}
