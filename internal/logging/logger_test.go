package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_ConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "dispatch.log")

	logger := NewLogger(Config{Console: &console, File: logFile})
	logger.Child("session", "abc").Info().Str("job_id", "000100-0").Msg("Submitted")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	if !strings.Contains(console.String(), "Submitted") {
		t.Errorf("console output missing message: %q", console.String())
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"message":"Submitted"`, `"job_id":"000100-0"`, `"session":"abc"`} {
		if !strings.Contains(line, want) {
			t.Errorf("log file missing %s: %q", want, line)
		}
	}
}

func TestLogger_SetOutput(t *testing.T) {
	var first, second bytes.Buffer
	logger := NewLogger(Config{Console: &first})
	logger.SetOutput(&second)
	logger.Warnf("queue %s is full", "serial")

	if first.Len() != 0 {
		t.Errorf("expected no output on the replaced writer, got %q", first.String())
	}
	if !strings.Contains(second.String(), "queue serial is full") {
		t.Errorf("unexpected output: %q", second.String())
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info().Msg("discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
