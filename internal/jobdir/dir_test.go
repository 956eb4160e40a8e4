package jobdir

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sacla-sfx/cheetah-dispatch/internal/models"
)

type fakeSubmitter struct {
	calls atomic.Int32
	id    string
	err   error
}

func (f *fakeSubmitter) Submit(ctx context.Context, dir, script string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

func newScripted(t *testing.T, id models.JobID) *Dir {
	t.Helper()
	d := New(t.TempDir(), id)
	if err := d.Create(); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := d.WriteScript(ChildTemplate, ScriptParams{RunID: "000100", RunName: id.String()}); err != nil {
		t.Fatalf("WriteScript() error: %v", err)
	}
	return d
}

func TestCreate_AlreadyExists(t *testing.T) {
	d := New(t.TempDir(), "000100-0")
	if err := d.Create(); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(d.Path(), "status.txt"), []byte("keep"), 0644); err != nil {
		t.Fatal(err)
	}

	err := d.Create()
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(d.Path(), "status.txt"))
	if string(data) != "keep" {
		t.Error("existing directory contents were modified")
	}
}

func TestWriteScript(t *testing.T) {
	d := New(t.TempDir(), "000100-light")
	if err := d.Create(); err != nil {
		t.Fatal(err)
	}

	params := ScriptParams{
		RunID:          "000100",
		RunName:        "000100-light",
		QueueName:      "serial",
		ClenMeters:     0.0515,
		Subjobs:        []string{"dark1", "dark2"},
		MaxI:           250,
		Station:        4,
		Arguments:      "--pd1_thresh=0.100 --pd1_name=laser --type=light",
		IniFile:        "../sacla-photon.ini",
		RunInfoCommand: "ShowRunInfo",
		Beamline:       3,
		CheetahPath:    "/opt/cheetah/bin",
	}
	if err := d.WriteScript(MasterTemplate, params); err != nil {
		t.Fatalf("WriteScript() error: %v", err)
	}
	if !d.HasScript() {
		t.Fatal("Expected run.sh to exist")
	}

	data, err := os.ReadFile(filepath.Join(d.Path(), "run.sh"))
	if err != nil {
		t.Fatal(err)
	}
	script := string(data)
	for _, want := range []string{
		"#PBS -N 000100-light",
		"#PBS -q serial",
		"clen = 0.0515;",
		"for i in dark1 dark2; do",
		"ShowRunInfo -b 3 -r 000100 > run.info",
		"/opt/cheetah/bin/cheetah-sacla-api2 --ini ../sacla-photon.ini --run 000100 --stride 2 -m 250 --station 4 -o run000100-light.h5 --pd1_thresh=0.100 --pd1_name=laser --type=light",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("master script missing %q", want)
		}
	}
}

func TestWriteChildScript(t *testing.T) {
	d := New(t.TempDir(), "000100-1")
	if err := d.Create(); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteScript(ChildTemplate, ScriptParams{RunID: "000100", RunName: "000100-1", DarkWaitTries: 1000}); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(d.Path(), "run.sh"))
	script := string(data)
	if !strings.Contains(script, "if [ $i -gt 1000 ]; then") {
		t.Error("child script missing bounded wait")
	}
	if !strings.Contains(script, `echo "Status: Status=Error-TimeoutWaitingDarkAverage" > status.txt`) {
		t.Error("child script missing timeout status")
	}
}

func TestSubmit(t *testing.T) {
	d := newScripted(t, "000100-1")
	q := &fakeSubmitter{id: "4242.sacla"}

	id, err := d.Submit(context.Background(), q)
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if id != "4242.sacla" {
		t.Errorf("Expected id 4242.sacla, got %s", id)
	}
	if !d.HasMarker() {
		t.Fatal("Expected marker to exist")
	}

	// Second submit is a no-op returning the recorded id.
	id, err = d.Submit(context.Background(), q)
	if err != nil {
		t.Fatalf("second Submit() error: %v", err)
	}
	if id != "4242.sacla" {
		t.Errorf("Expected recorded id, got %s", id)
	}
	if got := q.calls.Load(); got != 1 {
		t.Errorf("Expected 1 queue submission, got %d", got)
	}

	qid, err := d.QueueJobID()
	if err != nil || qid != "4242" {
		t.Errorf("QueueJobID() = %q, %v; want 4242", qid, err)
	}
}

func TestSubmit_NoScript(t *testing.T) {
	d := New(t.TempDir(), "000100-1")
	if err := d.Create(); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Submit(context.Background(), &fakeSubmitter{id: "1"}); !errors.Is(err, ErrNoScript) {
		t.Errorf("Expected ErrNoScript, got %v", err)
	}
	if d.HasMarker() {
		t.Error("marker must not be created without a script")
	}
}

func TestSubmit_FailureReleasesClaim(t *testing.T) {
	d := newScripted(t, "000100-1")
	q := &fakeSubmitter{err: errors.New("qsub: cannot connect to server")}

	if _, err := d.Submit(context.Background(), q); err == nil {
		t.Fatal("Expected submit error")
	}
	if d.HasMarker() {
		t.Error("failed submission must not leave a marker")
	}
	if !d.Pending() {
		t.Error("directory should remain pending")
	}
}

func TestSubmitNew_ConcurrentClaims(t *testing.T) {
	d := newScripted(t, "000100-2")
	q := &fakeSubmitter{id: "77"}

	var wg sync.WaitGroup
	var won, lost atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.SubmitNew(context.Background(), q)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, ErrAlreadySubmitted):
				lost.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if won.Load() != 1 || lost.Load() != 7 {
		t.Errorf("Expected 1 winner and 7 losers, got %d/%d", won.Load(), lost.Load())
	}
	if q.calls.Load() != 1 {
		t.Errorf("Expected 1 queue call, got %d", q.calls.Load())
	}
}

func TestQueueJobID_Malformed(t *testing.T) {
	d := newScripted(t, "000100-1")
	if _, err := d.QueueJobID(); err == nil {
		t.Error("Expected error for missing marker")
	}

	os.WriteFile(filepath.Join(d.Path(), "job.id"), []byte("qsub: error\n"), 0644)
	if _, err := d.QueueJobID(); !errors.Is(err, ErrBadMarker) {
		t.Errorf("Expected ErrBadMarker, got %v", err)
	}
}

func TestLeadingDigits(t *testing.T) {
	tests := map[string]string{
		"12345.sacla-pbs": "12345",
		"987":             "987",
		"abc":             "",
		"":                "",
		"12a34":           "12",
	}
	for in, want := range tests {
		if got := LeadingDigits(in); got != want {
			t.Errorf("LeadingDigits(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"000102-light", "000101-0", "000101-1", "notes", "000101-x", "12345"} {
		if err := os.Mkdir(filepath.Join(root, name), 0755); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(root, "000103-0"), []byte("file, not dir"), 0644)

	got, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	want := []models.JobID{"000101-0", "000101-1", "000102-light"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Scan() mismatch (-want +got):\n%s", diff)
	}
}
