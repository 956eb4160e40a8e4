package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/sacla-sfx/cheetah-dispatch/internal/models"
	"github.com/sacla-sfx/cheetah-dispatch/internal/state"
)

const (
	formatText = "text"
	formatCSV  = "csv"
	formatYAML = "yaml"
)

func checkFormat(format string, allowed ...string) error {
	for _, f := range allowed {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("unsupported output format %q (want one of %v)", format, allowed)
}

// writeTable prints rows the way operators read them.
func writeTable(w io.Writer, rows []models.Row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tTOTAL\tPROCESSED\tACCEPTED\tHITS\tINDEXED\tCOMMENT")
	for _, row := range rows {
		c := row.Cells()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.JobID, c.Status, c.Total, c.Processed, c.Accepted, c.Hits, c.Indexed, c.Comment)
	}
	return tw.Flush()
}

func writeRows(w io.Writer, rows []models.Row, format string) error {
	switch format {
	case formatCSV:
		return state.WriteCSV(w, rows)
	case formatYAML:
		return writeYAML(w, rows)
	default:
		return writeTable(w, rows)
	}
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
