package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/sacla-sfx/cheetah-dispatch/internal/config"
)

func TestCommandStructure(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{newRunCmd(), "run [spec...]", []string{"quick", "follow", "flush", "table", "snapshot", "queue", "max-jobs", "pd1", "pd2", "pd3", "max-i", "station"}},
		{newSubmitCmd(), "submit <spec>", []string{"dry-run", "output", "quick", "pd1"}},
		{newStatusCmd(), "status [job...]", []string{"output"}},
		{newSummaryCmd(), "summary [job...]", []string{"output"}},
		{newKillCmd(), "kill <job> [job...]", []string{"yes"}},
		{newScanCmd(), "scan", []string{"submit", "force"}},
		{newConfigInitCmd(), "init", []string{"force", "defaults"}},
	}

	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			if tt.cmd.Use != tt.use {
				t.Errorf("Expected Use='%s', got '%s'", tt.use, tt.cmd.Use)
			}
			if tt.cmd.Short == "" {
				t.Error("Short description is empty")
			}
			if tt.cmd.RunE == nil {
				t.Error("RunE function is nil")
			}
			for _, name := range tt.flags {
				if tt.cmd.Flags().Lookup(name) == nil {
					t.Errorf("--%s flag not found", name)
				}
			}
		})
	}
}

func TestRootRegistersCommands(t *testing.T) {
	root := NewRootCmd()
	AddCommands(root)

	for _, name := range []string{"run", "submit", "status", "summary", "kill", "scan", "config"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Expected %s command to be registered", name)
		}
	}
	for _, name := range []string{"config", "work-dir", "log-file", "verbose", "debug"} {
		if root.PersistentFlags().Lookup(name) == nil {
			t.Errorf("--%s persistent flag not found", name)
		}
	}
}

// execute runs the CLI with args and returns its standard output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		cfgFile, workDir, logFile = "", "", ""
		verbose, debug = false, false
	})

	root := NewRootCmd()
	AddCommands(root)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigInitDefaultsAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatcher.conf")

	out, err := execute(t, "--config", path, "config", "init", "--defaults")
	require.NoError(t, err)
	require.Contains(t, out, "Configuration saved")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, config.NewConfig().Queue.Name, cfg.Queue.Name)

	out, err = execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	require.Contains(t, out, "already exists")

	out, err = execute(t, "--config", path, "--work-dir", "/data/run", "config", "show")
	require.NoError(t, err)
	require.Contains(t, out, "/data/run")

	out, err = execute(t, "--config", path, "config", "path")
	require.NoError(t, err)
	require.Equal(t, path, strings.TrimSpace(out))
}

func TestConfigValidateRejectsDarkModeConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatcher.conf")
	cfg := config.NewConfig()
	cfg.Dispatcher.SubmitDark2 = true
	cfg.Dispatcher.SubmitDarkAny = true
	require.NoError(t, config.Save(cfg, path))

	_, err := execute(t, "--config", path, "config", "validate")
	require.ErrorIs(t, err, config.ErrDarkModeConflict)
}

func writeJob(t *testing.T, root, id, status string) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0755))
	if status != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "status.txt"), []byte(status+"\n"), 0644))
	}
}

func TestStatusAndSummaryCommands(t *testing.T) {
	root := t.TempDir()
	conf := filepath.Join(t.TempDir(), "dispatcher.conf")
	writeJob(t, root, "000100-0", "Status: Status=Hitfinding, Total=100, Processed=50, LLFpassed=40, Hits=10")
	writeJob(t, root, "000100-1", "")

	out, err := execute(t, "--config", conf, "--work-dir", root, "status")
	require.NoError(t, err)
	require.Contains(t, out, "000100-0")
	require.Contains(t, out, "Hitfinding")
	require.Contains(t, out, "waiting")

	out, err = execute(t, "--config", conf, "--work-dir", root, "status", "-o", "csv", "000100-1")
	require.NoError(t, err)
	require.Contains(t, out, "000100-1")
	require.NotContains(t, out, "000100-0")

	out, err = execute(t, "--config", conf, "--work-dir", root, "summary")
	require.NoError(t, err)
	require.Contains(t, out, "Type: normal")
	require.Contains(t, out, "Hits: 10 (25.0% of accepted)")

	_, err = execute(t, "--config", conf, "--work-dir", root, "status", "-o", "xml")
	require.Error(t, err)
}

func TestSubmitRejectsFollowSpec(t *testing.T) {
	_, err := execute(t, "submit", "100-")
	require.Error(t, err)
	require.Contains(t, err.Error(), "run --follow 100")
}

func TestSubmitDryRunYAML(t *testing.T) {
	root := t.TempDir()
	conf := filepath.Join(t.TempDir(), "dispatcher.conf")

	out, err := execute(t, "--config", conf, "--work-dir", root, "submit", "100-101", "--dry-run", "-o", "yaml")
	require.NoError(t, err)
	require.Contains(t, out, "job_id: 000100-0")
	require.Contains(t, out, "job_id: 000101-2")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSubmitRequiresDetectorIni(t *testing.T) {
	root := t.TempDir()
	conf := filepath.Join(t.TempDir(), "dispatcher.conf")

	_, err := execute(t, "--config", conf, "--work-dir", root, "submit", "100")
	require.ErrorIs(t, err, ErrMissingDetectorIni)
}

func TestScanListsDeferredJobs(t *testing.T) {
	root := t.TempDir()
	conf := filepath.Join(t.TempDir(), "dispatcher.conf")
	writeJob(t, root, "000100-1", "")
	require.NoError(t, os.WriteFile(filepath.Join(root, "000100-1", "run.sh"), []byte("#!/bin/bash\n"), 0755))
	writeJob(t, root, "000100-2", "")

	out, err := execute(t, "--config", conf, "--work-dir", root, "scan")
	require.NoError(t, err)
	require.Contains(t, out, "000100-1")
	require.NotContains(t, out, "000100-2")
	require.Contains(t, out, "1 deferred jobs")
}
