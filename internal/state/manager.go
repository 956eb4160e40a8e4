// Package state persists snapshots of the job table as CSV so they can be
// inspected or post-processed without a running dispatcher.
package state

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sacla-sfx/cheetah-dispatch/internal/models"
)

// Header is the column layout of a table snapshot.
var Header = []string{
	"Index", "JobID", "Kind", "Status", "Total", "Processed",
	"LLFpassed", "Hits", "Indexed", "Comment", "LastUpdated",
}

// Manager writes table snapshots to a CSV file.
type Manager struct {
	filePath string
	mu       sync.Mutex
}

// NewManager creates a manager writing to filePath.
func NewManager(filePath string) *Manager {
	return &Manager{filePath: filePath}
}

// Path returns the snapshot file path.
func (m *Manager) Path() string { return m.filePath }

// Save replaces the snapshot with rows (atomic write).
func (m *Manager) Save(rows []models.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Dir(m.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tempFile := m.filePath + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}

	success := false
	defer func() {
		if !success {
			file.Close()
			os.Remove(tempFile)
		}
	}()

	if err := WriteCSV(file, rows); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tempFile, m.filePath); err != nil {
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	success = true
	return nil
}

// WriteCSV writes rows with a header line. Numeric columns hold raw counts;
// unavailable values are empty.
func WriteCSV(w io.Writer, rows []models.Row) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("failed to write state header: %w", err)
	}

	for _, row := range rows {
		if err := writer.Write(record(row)); err != nil {
			return fmt.Errorf("failed to write state record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush state records: %w", err)
	}
	return nil
}

func record(row models.Row) []string {
	rec := []string{
		strconv.Itoa(row.Index),
		row.JobID.String(),
		string(row.JobID.Kind()),
		row.Status(),
		"", "", "", "", "", "",
		"",
	}
	if !row.UpdatedAt.IsZero() {
		rec[10] = row.UpdatedAt.Format(time.RFC3339)
	}
	r := row.Record
	if r == nil {
		return rec
	}
	for i, field := range []string{models.FieldTotal, models.FieldProcessed, models.FieldLLFPassed, models.FieldHits} {
		if n, ok := r.Int(field); ok {
			rec[4+i] = strconv.Itoa(n)
		}
	}
	rec[8] = r.Indexed
	rec[9] = r.Comment
	return rec
}
