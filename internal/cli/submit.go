package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sacla-sfx/cheetah-dispatch/internal/dispatch"
	"github.com/sacla-sfx/cheetah-dispatch/internal/planner"
	"github.com/sacla-sfx/cheetah-dispatch/internal/progress"
)

// newSubmitCmd creates the 'submit' command.
func newSubmitCmd() *cobra.Command {
	var (
		qf     queueFlags
		pf     paramFlags
		dryRun bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "submit <spec>",
		Short: "Create job directories for runs and submit them",
		Long: `Create the job directories and scripts of one run or an inclusive range
of runs and submit them to the batch queue, then exit.

With --quick only the master job of each run is submitted; the children are
submitted by the auto submitter of a running 'cheetah-dispatch run', or by
one auto submission pass before this command exits.

Examples:
  cheetah-dispatch submit 100
  cheetah-dispatch submit 100-120 --pd1 0.2
  cheetah-dispatch submit 100-103 --dry-run -o yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output, formatText, formatYAML); err != nil {
				return err
			}
			rs, err := dispatch.ParseRunSpec(args[0])
			if err != nil {
				return err
			}
			if rs.Kind == dispatch.SpecFollow {
				return fmt.Errorf("following runs needs a running dispatcher; use 'run --follow %d'", rs.First)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			qf.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			useConfiguredLogFile(cfg, false)
			log := GetLogger()

			a, err := newApp(cfg, appOptions{}, log)
			if err != nil {
				return err
			}
			params := pf.params(cfg)

			if dryRun {
				plans, err := a.ctrl.Plans(rs.Runs(), params)
				if err != nil {
					return err
				}
				return writePlans(cmd, plans, output)
			}

			if err := checkDetectorIni(a.root); err != nil {
				return err
			}

			ctx := GetContext()
			runs := rs.Runs()
			var reporter progress.Reporter = progress.NewNoOpProgress()
			if len(runs) > 1 {
				reporter = progress.NewCLIProgress()
			}
			reporter.Start(len(runs), "Submitting runs")
			err = a.ctrl.SubmitRuns(ctx, runs, params, reporter.RunDone)
			reporter.Finish()

			if cfg.Dispatcher.Quick && a.scheduler != nil {
				n, serr := a.scheduler.CheckAndSubmit(ctx, false)
				if serr != nil {
					log.Warn().Err(serr).Msg("Auto submission pass failed")
				}
				if left := countPending(a.root); left > 0 {
					fmt.Fprintf(os.Stderr, "Submitted %d children; %d left for the auto submitter\n", n, left)
				}
			}
			return err
		},
	}

	qf.bind(cmd)
	pf.bind(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the planned jobs without creating anything")
	cmd.Flags().StringVarP(&output, "output", "o", formatText, "Dry-run output format: text or yaml")

	return cmd
}

func writePlans(cmd *cobra.Command, plans []planner.Plan, format string) error {
	w := cmd.OutOrStdout()
	if format == formatYAML {
		return writeYAML(w, plans)
	}
	for _, p := range plans {
		for _, job := range p.Jobs() {
			fmt.Fprintf(w, "%s\t%s\n", job.JobID, job.Arguments)
		}
	}
	return nil
}
