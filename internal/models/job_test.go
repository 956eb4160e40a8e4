package models

import (
	"testing"
)

func TestParseJobID(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
		run     int
		suffix  string
		kind    Kind
	}{
		{in: "000123", run: 123, kind: KindNormal},
		{in: "000123-0", run: 123, suffix: "0", kind: KindNormal},
		{in: "000123-2", run: 123, suffix: "2", kind: KindNormal},
		{in: "123456-light", run: 123456, suffix: "light", kind: KindLight},
		{in: "123456-dark1", run: 123456, suffix: "dark1", kind: KindDark1},
		{in: "123456-dark2", run: 123456, suffix: "dark2", kind: KindDark2},
		{in: "123456-dark", run: 123456, suffix: "dark", kind: KindDark},
		{in: "12345", wantErr: true},
		{in: "1234567", wantErr: true},
		{in: "000123-12", wantErr: true},
		{in: "000123-dark3", wantErr: true},
		{in: "000123-", wantErr: true},
		{in: "logs", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, err := ParseJobID(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id.Run() != tt.run {
				t.Errorf("Run() = %d, want %d", id.Run(), tt.run)
			}
			if id.Suffix() != tt.suffix {
				t.Errorf("Suffix() = %q, want %q", id.Suffix(), tt.suffix)
			}
			if id.Kind() != tt.kind {
				t.Errorf("Kind() = %q, want %q", id.Kind(), tt.kind)
			}
		})
	}
}

func TestNewJobID(t *testing.T) {
	if got := NewJobID(100, "0"); got != "000100-0" {
		t.Errorf("NewJobID(100, 0) = %q", got)
	}
	if got := NewJobID(42, ""); got != "000042" {
		t.Errorf("NewJobID(42, \"\") = %q", got)
	}
	if !IsJobID(NewJobID(7, "dark1").String()) {
		t.Error("expected generated identity to be valid")
	}
}

func TestStatusRecord_Terminal(t *testing.T) {
	tests := []struct {
		name string
		rec  StatusRecord
		want bool
	}{
		{"running", StatusRecord{Status: "Hitfinding", Indexed: "NA"}, false},
		{"empty indexed", StatusRecord{Status: "Finished", Indexed: ""}, false},
		{"indexed", StatusRecord{Status: "Finished", Indexed: "12"}, true},
		{"error", StatusRecord{Status: "Error-NoData", Indexed: "NA"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusRecord_IntIgnoredOnError(t *testing.T) {
	rec := StatusRecord{Status: "Error-Crashed", Fields: map[string]string{"Total": "10"}}
	if _, ok := rec.Int(FieldTotal); ok {
		t.Error("expected numeric fields of an error record to be untrusted")
	}
}

func TestRowCells(t *testing.T) {
	fields := map[string]string{
		"Status": "Finished", "Total": "200", "Processed": "100", "LLFpassed": "50", "Hits": "20",
	}

	t.Run("no record", func(t *testing.T) {
		c := Row{JobID: "000001-0"}.Cells()
		if c.Status != StatusWaiting || c.Total != "" {
			t.Errorf("unexpected cells: %+v", c)
		}
	})

	t.Run("full", func(t *testing.T) {
		c := Row{JobID: "000001-0", Record: &StatusRecord{Status: "Finished", Fields: fields, Indexed: "5", Comment: "lysozyme"}}.Cells()
		if c.Total != "200" {
			t.Errorf("Total = %q", c.Total)
		}
		if c.Processed != "100 (50.0%)" {
			t.Errorf("Processed = %q", c.Processed)
		}
		if c.Accepted != "50 (50.0%)" {
			t.Errorf("Accepted = %q", c.Accepted)
		}
		if c.Hits != "20 (20.0%)" {
			t.Errorf("Hits = %q", c.Hits)
		}
		if c.Indexed != "5 (25.0%)" {
			t.Errorf("Indexed = %q", c.Indexed)
		}
		if c.Comment != "lysozyme" {
			t.Errorf("Comment = %q", c.Comment)
		}
	})

	t.Run("indexed unavailable", func(t *testing.T) {
		c := Row{Record: &StatusRecord{Status: "Indexing", Fields: fields, Indexed: "NA"}}.Cells()
		if c.Indexed != "NA" {
			t.Errorf("Indexed = %q", c.Indexed)
		}
	})

	t.Run("dark averaging shows progress only", func(t *testing.T) {
		c := Row{Record: &StatusRecord{Status: StatusDarkAveraging, Fields: map[string]string{"Total": "10", "Processed": "5"}}}.Cells()
		if c.Processed != "5 (50.0%)" || c.Hits != "" {
			t.Errorf("unexpected cells: %+v", c)
		}
	})

	t.Run("error shows status only", func(t *testing.T) {
		c := Row{Record: &StatusRecord{Status: "Error-TimeoutWaitingDarkAverage", Fields: fields}}.Cells()
		if c.Status != "Error-TimeoutWaitingDarkAverage" || c.Total != "" {
			t.Errorf("unexpected cells: %+v", c)
		}
	})
}
