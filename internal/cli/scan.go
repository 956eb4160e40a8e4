package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sacla-sfx/cheetah-dispatch/internal/jobdir"
)

// newScanCmd creates the 'scan' command.
func newScanCmd() *cobra.Command {
	var (
		qf     queueFlags
		submit bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List deferred jobs, optionally running one auto submission pass",
		Long: `List the job directories that have a script but no submission marker.

With --submit, run one auto submission pass: directories are visited in
reverse order and submitted while the queue holds no more than max-jobs jobs.
--force ignores the cap.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			qf.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			out := cmd.OutOrStdout()
			if !submit {
				root, err := filepath.Abs(cfg.Dispatcher.WorkDir)
				if err != nil {
					return err
				}
				ids, err := jobdir.Scan(root)
				if err != nil {
					return err
				}
				n := 0
				for _, id := range ids {
					if jobdir.New(root, id).Pending() {
						fmt.Fprintln(out, id)
						n++
					}
				}
				fmt.Fprintf(out, "%d deferred jobs\n", n)
				return nil
			}

			a, err := newApp(cfg, appOptions{scheduler: true}, GetLogger())
			if err != nil {
				return err
			}
			n, err := a.scheduler.CheckAndSubmit(GetContext(), force)
			fmt.Fprintf(out, "Submitted %d jobs\n", n)
			return err
		},
	}

	qf.bind(cmd)
	cmd.Flags().BoolVar(&submit, "submit", false, "Run one auto submission pass")
	cmd.Flags().BoolVar(&force, "force", false, "With --submit, ignore the queue cap")
	return cmd
}
