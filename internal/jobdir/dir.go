// Package jobdir manages job directories: creation, script generation, the
// submission marker and scanning of the work tree. The marker file is the
// only record of whether a job was submitted.
package jobdir

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/sacla-sfx/cheetah-dispatch/internal/constants"
	"github.com/sacla-sfx/cheetah-dispatch/internal/models"
)

var (
	// ErrAlreadyExists is returned by Create when the directory exists.
	ErrAlreadyExists = errors.New("job directory already exists")
	// ErrAlreadySubmitted is returned by Claim when the marker exists.
	ErrAlreadySubmitted = errors.New("job already submitted")
	// ErrNoScript is returned by Submit when run.sh is missing.
	ErrNoScript = errors.New("job script not found")
	// ErrBadMarker is returned when the marker holds no queue job id.
	ErrBadMarker = errors.New("submission marker has no queue job id")
)

// Submitter hands a script to the batch queue and returns its job id.
type Submitter interface {
	Submit(ctx context.Context, dir, script string) (string, error)
}

// Dir is one job directory under the work root.
type Dir struct {
	root string
	id   models.JobID
}

// New returns the directory of job id under root.
func New(root string, id models.JobID) *Dir {
	return &Dir{root: root, id: id}
}

// JobID returns the job identity.
func (d *Dir) JobID() models.JobID { return d.id }

// Path returns the directory path.
func (d *Dir) Path() string { return filepath.Join(d.root, d.id.String()) }

func (d *Dir) file(name string) string { return filepath.Join(d.Path(), name) }

// Exists reports whether the directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.Path())
	return err == nil
}

// Create makes the directory. An existing directory is never reused.
func (d *Dir) Create() error {
	if err := os.Mkdir(d.Path(), 0755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, d.id)
		}
		return fmt.Errorf("failed to create %s: %w", d.id, err)
	}
	return nil
}

// Remove deletes the directory and its contents.
func (d *Dir) Remove() error {
	return os.RemoveAll(d.Path())
}

// WriteScript renders tmpl with p into run.sh.
func (d *Dir) WriteScript(tmpl Template, p ScriptParams) error {
	t, ok := scripts[tmpl]
	if !ok {
		return fmt.Errorf("unknown script template %d", tmpl)
	}

	var b strings.Builder
	if err := t.Execute(&b, p); err != nil {
		return fmt.Errorf("failed to render %s script for %s: %w", tmpl, d.id, err)
	}
	if err := os.WriteFile(d.file(constants.RunScriptName), []byte(b.String()), 0755); err != nil {
		return fmt.Errorf("failed to write script for %s: %w", d.id, err)
	}
	return nil
}

// HasScript reports whether run.sh exists.
func (d *Dir) HasScript() bool {
	_, err := os.Stat(d.file(constants.RunScriptName))
	return err == nil
}

// HasMarker reports whether the submission marker exists.
func (d *Dir) HasMarker() bool {
	_, err := os.Stat(d.file(constants.MarkerFileName))
	return err == nil
}

// ReadMarker returns the trimmed marker content.
func (d *Dir) ReadMarker() (string, error) {
	data, err := os.ReadFile(d.file(constants.MarkerFileName))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// QueueJobID returns the numeric queue job id recorded in the marker:
// the leading digits of its content ("12345.server" gives "12345").
func (d *Dir) QueueJobID() (string, error) {
	content, err := d.ReadMarker()
	if err != nil {
		return "", err
	}
	id := LeadingDigits(content)
	if id == "" {
		return "", fmt.Errorf("%w: %q", ErrBadMarker, content)
	}
	return id, nil
}

// LeadingDigits returns the longest prefix of s made of ASCII digits.
func LeadingDigits(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return r > unicode.MaxASCII || !unicode.IsDigit(r)
	})
	if end < 0 {
		return s
	}
	return s[:end]
}

// Claim creates the marker exclusively. The returned file must be closed
// by the caller; ErrAlreadySubmitted means another submitter owns it.
func (d *Dir) Claim() (*os.File, error) {
	f, err := os.OpenFile(d.file(constants.MarkerFileName), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadySubmitted, d.id)
		}
		return nil, fmt.Errorf("failed to claim %s: %w", d.id, err)
	}
	return f, nil
}

// SubmitNew submits the job if and only if this call wins the marker
// claim. A failed submission releases the claim.
func (d *Dir) SubmitNew(ctx context.Context, q Submitter) (string, error) {
	if !d.HasScript() {
		return "", fmt.Errorf("%w: %s", ErrNoScript, d.id)
	}

	f, err := d.Claim()
	if err != nil {
		return "", err
	}

	queueID, err := q.Submit(ctx, d.Path(), constants.RunScriptName)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to submit %s: %w", d.id, err)
	}

	if _, err := fmt.Fprintln(f, queueID); err != nil {
		f.Close()
		return queueID, fmt.Errorf("failed to record queue id for %s: %w", d.id, err)
	}
	if err := f.Close(); err != nil {
		return queueID, fmt.Errorf("failed to record queue id for %s: %w", d.id, err)
	}
	return queueID, nil
}

// Submit submits the job unless a marker already exists, in which case it
// returns the recorded content without contacting the queue.
func (d *Dir) Submit(ctx context.Context, q Submitter) (string, error) {
	id, err := d.SubmitNew(ctx, q)
	if errors.Is(err, ErrAlreadySubmitted) {
		return d.ReadMarker()
	}
	return id, err
}

// Scan lists the job identities found directly under root in lexicographic
// order. Entries that are not directories or not valid identities are
// ignored.
func Scan(root string) ([]models.JobID, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	ids := make([]models.JobID, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || !models.IsJobID(e.Name()) {
			continue
		}
		ids = append(ids, models.JobID(e.Name()))
	}
	return ids, nil
}

// Pending reports whether the directory has a script but no marker, i.e.
// it is waiting for the auto submitter.
func (d *Dir) Pending() bool {
	return d.HasScript() && !d.HasMarker()
}
