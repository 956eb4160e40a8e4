package dispatch

import (
	"fmt"
	"io"

	"github.com/sacla-sfx/cheetah-dispatch/internal/models"
)

// Totals are the summed counts of one job kind.
type Totals struct {
	Kind      models.Kind `json:"kind" yaml:"kind"`
	Jobs      int         `json:"jobs" yaml:"jobs"`
	Total     int         `json:"total" yaml:"total"`
	Processed int         `json:"processed" yaml:"processed"`
	Accepted  int         `json:"accepted" yaml:"accepted"`
	Hits      int         `json:"hits" yaml:"hits"`
	Indexed   int         `json:"indexed" yaml:"indexed"`
}

// HitRate returns hits as a percentage of accepted frames.
func (t Totals) HitRate() (float64, bool) {
	if t.Accepted == 0 {
		return 0, false
	}
	return 100.0 * float64(t.Hits) / float64(t.Accepted), true
}

// IndexRate returns indexed patterns as a percentage of hits.
func (t Totals) IndexRate() (float64, bool) {
	if t.Hits == 0 {
		return 0, false
	}
	return 100.0 * float64(t.Indexed) / float64(t.Hits), true
}

// Summary holds the totals of every kind with a nonzero frame count, in
// models.Kinds order.
type Summary []Totals

// Summarize sums the counters of rows by kind. A row contributes only when
// its Total is readable; the other counters are added when available.
func Summarize(rows []models.Row) Summary {
	byKind := make(map[models.Kind]*Totals, len(models.Kinds))
	for _, k := range models.Kinds {
		byKind[k] = &Totals{Kind: k}
	}

	for _, row := range rows {
		rec := row.Record
		if rec == nil {
			continue
		}
		total, ok := rec.Int(models.FieldTotal)
		if !ok {
			continue
		}
		t := byKind[row.JobID.Kind()]
		t.Jobs++
		t.Total += total
		if n, ok := rec.Int(models.FieldProcessed); ok {
			t.Processed += n
		}
		if n, ok := rec.Int(models.FieldLLFPassed); ok {
			t.Accepted += n
		}
		if n, ok := rec.Int(models.FieldHits); ok {
			t.Hits += n
		}
		if n, ok := rec.IndexedCount(); ok {
			t.Indexed += n
		}
	}

	var s Summary
	for _, k := range models.Kinds {
		if t := byKind[k]; t.Total != 0 {
			s = append(s, *t)
		}
	}
	return s
}

// WriteText prints the summary in the operator report format.
func (s Summary) WriteText(w io.Writer) error {
	for i, t := range s {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		hits := fmt.Sprintf("Hits: %d", t.Hits)
		if rate, ok := t.HitRate(); ok {
			hits += fmt.Sprintf(" (%.1f%% of accepted)", rate)
		}
		indexed := fmt.Sprintf("Indexed: %d", t.Indexed)
		if rate, ok := t.IndexRate(); ok {
			indexed += fmt.Sprintf(" (%.1f%% of hits)", rate)
		}
		if _, err := fmt.Fprintf(w, "Type: %s\nTotal: %d\nProcessed: %d\nAccepted: %d\n%s\n%s\n",
			t.Kind, t.Total, t.Processed, t.Accepted, hits, indexed); err != nil {
			return err
		}
	}
	return nil
}
