package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sacla-sfx/cheetah-dispatch/internal/config"
	"github.com/sacla-sfx/cheetah-dispatch/internal/events"
	"github.com/sacla-sfx/cheetah-dispatch/internal/logging"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReportFollow(t *testing.T) {
	bus := events.NewEventBus(0)
	defer bus.Close()
	var out lockedBuffer

	ctx, cancel := context.WithCancel(context.Background())
	done := reportFollow(ctx, bus, &out)

	bus.PublishFollow(true, 101)
	bus.PublishFollow(false, 101)
	require.Eventually(t, func() bool {
		return out.String() == "Waiting for run 101\nStopped following runs at run 101\n"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reportFollow did not stop after cancel")
	}

	bus.PublishFollow(true, 102)
	require.Zero(t, bus.GetDroppedEventCount())
}

func TestLogFileFor(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)

	cfg := config.NewConfig()

	file, err := logFileFor(cfg, false)
	require.NoError(t, err)
	require.Empty(t, file)

	file, err = logFileFor(cfg, true)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "cheetah-dispatch", "logs", "dispatch.log"), file)
	require.DirExists(t, filepath.Join(dir, "cheetah-dispatch", "logs"))

	cfg.Logging.File = filepath.Join(dir, "configured.log")
	file, err = logFileFor(cfg, true)
	require.NoError(t, err)
	require.Equal(t, cfg.Logging.File, file)

	logFile = filepath.Join(dir, "flag.log")
	t.Cleanup(func() { logFile = "" })
	file, err = logFileFor(cfg, false)
	require.NoError(t, err)
	require.Equal(t, logFile, file)
}

func TestNewAppStartsAutoSubmitterOnlyInQuickMode(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Dispatcher.WorkDir = t.TempDir()

	a, err := newApp(cfg, appOptions{follow: true}, logging.NewNopLogger())
	require.NoError(t, err)
	require.Nil(t, a.scheduler)

	cfg.Dispatcher.Quick = true
	a, err = newApp(cfg, appOptions{follow: true}, logging.NewNopLogger())
	require.NoError(t, err)
	require.NotNil(t, a.scheduler)

	cfg.Dispatcher.Quick = false
	a, err = newApp(cfg, appOptions{scheduler: true}, logging.NewNopLogger())
	require.NoError(t, err)
	require.NotNil(t, a.scheduler)
}
