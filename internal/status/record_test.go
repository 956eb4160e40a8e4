package status

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    map[string]string
		wantErr bool
	}{
		{
			name: "full line",
			line: "Status: Status=Hitfinding,Total=1000,Processed=200,LLFpassed=150,Hits=12",
			want: map[string]string{
				"Status": "Hitfinding", "Total": "1000", "Processed": "200", "LLFpassed": "150", "Hits": "12",
			},
		},
		{
			name: "without prefix",
			line: "Status=DarkAveraging,Total=10,Processed=0",
			want: map[string]string{"Status": "DarkAveraging", "Total": "10", "Processed": "0"},
		},
		{
			name: "error status skips numeric checks",
			line: "Status: Status=Error-TimeoutWaitingDarkAverage,Total=",
			want: map[string]string{"Status": "Error-TimeoutWaitingDarkAverage", "Total": ""},
		},
		{name: "truncated pair", line: "Status: Status=Hitfinding,Total=1000,Proc", wantErr: true},
		{name: "truncated number", line: "Status: Status=Hitfinding,Total=", wantErr: true},
		{name: "double equals", line: "Status: Status=a=b", wantErr: true},
		{name: "missing status", line: "Status: Total=1,Processed=1", wantErr: true},
		{name: "empty", line: "Status:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			if tt.wantErr {
				if !errors.Is(err, ErrParse) {
					t.Fatalf("Expected ErrParse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLine() error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseLine() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_LastStatusLineWins(t *testing.T) {
	data := []byte("# cheetah log\n" +
		"Status: Status=DarkAveraging,Total=100,Processed=5\n" +
		"frame 6 processed\n" +
		"Status: Status=Hitfinding,Total=100,Processed=50,LLFpassed=40,Hits=3\n")

	rec, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if rec.Status != "Hitfinding" {
		t.Errorf("Expected status Hitfinding, got %s", rec.Status)
	}
	if n, _ := rec.Int("Processed"); n != 50 {
		t.Errorf("Expected Processed=50, got %d", n)
	}
	if rec.Indexed != "NA" {
		t.Errorf("Expected indexed NA, got %s", rec.Indexed)
	}
}

func TestDecode_NoStatusLine(t *testing.T) {
	if _, err := Decode([]byte("starting\n")); !errors.Is(err, ErrParse) {
		t.Errorf("Expected ErrParse, got %v", err)
	}
}

func TestReadIndexed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "indexed.cnt")

	if got := ReadIndexed(path); got != "NA" {
		t.Errorf("missing file: expected NA, got %s", got)
	}

	os.WriteFile(path, []byte(""), 0644)
	if got := ReadIndexed(path); got != "NA" {
		t.Errorf("empty file: expected NA, got %s", got)
	}

	os.WriteFile(path, []byte("42\n"), 0644)
	if got := ReadIndexed(path); got != "42" {
		t.Errorf("expected 42, got %s", got)
	}
}

func TestReadComment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.info")

	if _, ok := ReadComment(path); ok {
		t.Error("Expected no comment for missing file")
	}

	content := "Run      : 123456\nComment = lysozyme batch 3\nComment = second\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	got, ok := ReadComment(path)
	if !ok {
		t.Fatal("Expected comment to be found")
	}
	if got != "lysozyme batch 3" {
		t.Errorf("Expected 'lysozyme batch 3', got %q", got)
	}
}
