package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Well-known status values and field names written by the frame processor.
const (
	StatusWaiting       = "waiting"
	StatusIndexing      = "Indexing"
	StatusDarkAveraging = "DarkAveraging"

	FieldStatus    = "Status"
	FieldTotal     = "Total"
	FieldProcessed = "Processed"
	FieldLLFPassed = "LLFpassed"
	FieldHits      = "Hits"
)

// StatusRecord is the decoded content of one job's status file merged with
// the indexed count and the run comment.
type StatusRecord struct {
	JobID   JobID             `json:"job_id" yaml:"job_id"`
	Status  string            `json:"status" yaml:"status"`
	Fields  map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
	Indexed string            `json:"indexed" yaml:"indexed"`
	Comment string            `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// IsError reports whether the job reported a terminal error.
func (r *StatusRecord) IsError() bool {
	return strings.HasPrefix(r.Status, "Error")
}

// IsFinished reports whether the frame processor reported completion.
func (r *StatusRecord) IsFinished() bool {
	return strings.HasPrefix(r.Status, "Finished")
}

// HasIndexed reports whether an indexed count has been read.
func (r *StatusRecord) HasIndexed() bool {
	return r.Indexed != "" && r.Indexed != "NA"
}

// Terminal reports whether no further updates are expected for the job.
func (r *StatusRecord) Terminal() bool {
	return r.HasIndexed() || r.IsError()
}

// Int returns a numeric field. Error records never yield numbers.
func (r *StatusRecord) Int(field string) (int, bool) {
	if r.IsError() {
		return 0, false
	}
	v, ok := r.Fields[field]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// IndexedCount returns the indexed count as a number.
func (r *StatusRecord) IndexedCount() (int, bool) {
	if !r.HasIndexed() {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(r.Indexed))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Row is one entry of the aggregated job table. Index is assigned on first
// registration and never changes.
type Row struct {
	Index     int           `json:"index" yaml:"index"`
	JobID     JobID         `json:"job_id" yaml:"job_id"`
	Record    *StatusRecord `json:"record,omitempty" yaml:"record,omitempty"`
	Monitored bool          `json:"monitored" yaml:"monitored"`
	UpdatedAt time.Time     `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Status returns the row's current status text.
func (r Row) Status() string {
	if r.Record == nil || r.Record.Status == "" {
		return StatusWaiting
	}
	return r.Record.Status
}

// Cells holds the display strings of a row.
type Cells struct {
	JobID     string
	Status    string
	Total     string
	Processed string
	Accepted  string
	Hits      string
	Indexed   string
	Comment   string
}

// Cells renders the row the way operators read it: counts followed by
// percentages relative to the previous stage.
func (r Row) Cells() Cells {
	c := Cells{JobID: r.JobID.String(), Status: r.Status()}
	rec := r.Record
	if rec == nil {
		return c
	}
	c.Comment = rec.Comment
	if rec.IsError() {
		return c
	}

	total, okTotal := rec.Int(FieldTotal)
	processed, okProcessed := rec.Int(FieldProcessed)
	if !okTotal || !okProcessed {
		return c
	}
	c.Total = strconv.Itoa(total)
	c.Processed = withPercent(processed, total)

	if rec.Status == StatusDarkAveraging || rec.Status == StatusWaiting {
		return c
	}
	accepted, okAccepted := rec.Int(FieldLLFPassed)
	hits, okHits := rec.Int(FieldHits)
	if !okAccepted || !okHits {
		return c
	}
	c.Accepted = withPercent(accepted, processed)
	c.Hits = withPercent(hits, processed)

	indexed, ok := rec.IndexedCount()
	switch {
	case !ok:
		c.Indexed = "NA"
	case hits == 0:
		c.Indexed = "0 (0.0%)"
	default:
		c.Indexed = withPercent(indexed, hits)
	}
	return c
}

func withPercent(n, of int) string {
	if of == 0 {
		return fmt.Sprintf("%d (0.0%%)", n)
	}
	return fmt.Sprintf("%d (%.1f%%)", n, 100.0*float64(n)/float64(of))
}
