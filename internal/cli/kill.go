package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// newKillCmd creates the 'kill' command.
func newKillCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "kill <job> [job...]",
		Short: "Cancel queued or running jobs",
		Long: `Cancel the queue jobs recorded in the submission markers of the given job
directories. The directories are left untouched.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseJobIDs(args)
			if err != nil {
				return err
			}
			if !yes {
				ok, err := promptYesNo(readerSource(bufio.NewReader(os.Stdin)), cmd.OutOrStdout(),
					fmt.Sprintf("Kill %s?", strings.Join(args, ", ")), false)
				if err != nil || !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return nil
				}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, appOptions{}, GetLogger())
			if err != nil {
				return err
			}

			var errs []error
			for _, id := range ids {
				qid, err := a.ctrl.KillJob(GetContext(), id)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Killed %s (%s)\n", id, qid)
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}
