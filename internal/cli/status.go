package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sacla-sfx/cheetah-dispatch/internal/dispatch"
	"github.com/sacla-sfx/cheetah-dispatch/internal/models"
)

// newStatusCmd creates the 'status' command.
func newStatusCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status [job...]",
		Short: "Print the job table once",
		Long: `Decode the status file of every job directory once and print the table.
No dispatcher needs to be running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output, formatText, formatCSV, formatYAML); err != nil {
				return err
			}
			rows, err := readRows(args)
			if err != nil {
				return err
			}
			return writeRows(cmd.OutOrStdout(), rows, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", formatText, "Output format: text, csv or yaml")
	return cmd
}

// newSummaryCmd creates the 'summary' command.
func newSummaryCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "summary [job...]",
		Short: "Sum frame counters by job type",
		Long: `Sum Total, Processed, Accepted, Hits and Indexed over the given jobs, or
over every job directory, grouped by job type. Jobs whose counters cannot be
read yet are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output, formatText, formatYAML); err != nil {
				return err
			}
			rows, err := readRows(args)
			if err != nil {
				return err
			}
			sum := dispatch.Summarize(rows)
			if output == formatYAML {
				return writeYAML(cmd.OutOrStdout(), sum)
			}
			if len(sum) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No frame counts available yet.")
				return nil
			}
			return sum.WriteText(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", formatText, "Output format: text or yaml")
	return cmd
}

// readRows reads the table of the configured work directory, restricted
// to ids when given.
func readRows(ids []string) ([]models.Row, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	root, err := filepath.Abs(cfg.Dispatcher.WorkDir)
	if err != nil {
		return nil, err
	}
	rows, err := dispatch.ReadTable(root)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return rows, nil
	}

	want, err := parseJobIDs(ids)
	if err != nil {
		return nil, err
	}
	return filterRows(rows, want), nil
}

func filterRows(rows []models.Row, ids []models.JobID) []models.Row {
	want := make(map[models.JobID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Row
	for _, r := range rows {
		if want[r.JobID] {
			out = append(out, r)
		}
	}
	return out
}
