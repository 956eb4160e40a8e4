// Package config provides configuration management for the dispatcher.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/sacla-sfx/cheetah-dispatch/internal/constants"
)

// Config is the dispatcher configuration.
//
// Config file location: ~/.config/cheetah-dispatch/dispatcher.conf
//
// INI format:
//
//	[dispatcher]
//	work_dir = /work/sfx/2026b
//	clen = 51.5
//	quick = true
//	station = 4
//	parallel_size = 3
//	submit_dark2 = false
//	submit_dark_any = false
//	crystfel_args = --no-revalidate
//	max_watchers = 512
//
//	[detector]
//	pd1_name = xfel_bl_3_st_4_pd_laser_fitting_peak/voltage
//
//	[queue]
//	name = serial
//	max_jobs = 14
//	submit_command = qsub
//	status_command = qstat
//	cancel_command = qdel
//	scan_interval_seconds = 20
//	debounce_ms = 1000
//
//	[runinfo]
//	command = ShowRunInfo
//	beamline = 3
//	ready_marker = Ready to Read
//
//	[paths]
//	setup_script = /home/sfx/setup.sh
//	cheetah_path = /home/sfx/cheetah/bin
//	indexamajig_path = /home/sfx/crystfel/bin
//	script_path = /home/sfx/scripts
//	ini_file = ../sacla-photon.ini
//
//	[intervals]
//	watch_ms = 1500
//	rescan_seconds = 5
//	follow_seconds = 5
//
//	[logging]
//	file = /work/sfx/2026b/dispatch.log
type Config struct {
	Dispatcher DispatcherSection
	Detector   DetectorSection
	Queue      QueueSection
	RunInfo    RunInfoSection
	Paths      PathsSection
	Intervals  IntervalsSection
	Logging    LoggingSection
}

// DispatcherSection holds run processing options.
type DispatcherSection struct {
	// WorkDir is the directory holding one subdirectory per job.
	WorkDir string `ini:"work_dir"`

	// ClenMM is the camera length in millimetres written into the geometry.
	ClenMM float64 `ini:"clen"`

	// Quick defers child job submission to the auto submitter.
	Quick bool `ini:"quick"`

	// Station is the experimental station number.
	Station int `ini:"station"`

	// ParallelSize is the replica count of a plain run.
	ParallelSize int `ini:"parallel_size"`

	// SubmitDark2 adds a second dark child (Ln-D2) to light runs.
	SubmitDark2 bool `ini:"submit_dark2"`

	// SubmitDarkAny replaces dark1 with a single "any dark" child (Ln-Dm).
	SubmitDarkAny bool `ini:"submit_dark_any"`

	// CrystFELArgs are appended to the indexamajig command line.
	CrystFELArgs string `ini:"crystfel_args"`

	// MaxWatchers bounds the number of concurrently monitored jobs.
	MaxWatchers int `ini:"max_watchers"`
}

// DetectorSection names the auxiliary sensors used for light/dark sorting.
// An empty name disables the corresponding threshold argument.
type DetectorSection struct {
	PD1Name string `ini:"pd1_name"`
	PD2Name string `ini:"pd2_name"`
	PD3Name string `ini:"pd3_name"`
}

// QueueSection configures the batch queue commands and back-pressure.
type QueueSection struct {
	Name                string `ini:"name"`
	MaxJobs             int    `ini:"max_jobs"`
	SubmitCommand       string `ini:"submit_command"`
	StatusCommand       string `ini:"status_command"`
	CancelCommand       string `ini:"cancel_command"`
	ScanIntervalSeconds int    `ini:"scan_interval_seconds"`
	DebounceMS          int    `ini:"debounce_ms"`
}

// RunInfoSection configures the run readiness query.
type RunInfoSection struct {
	Command     string `ini:"command"`
	Beamline    int    `ini:"beamline"`
	ReadyMarker string `ini:"ready_marker"`
}

// PathsSection holds tool locations substituted into job scripts.
type PathsSection struct {
	SetupScript     string `ini:"setup_script"`
	CheetahPath     string `ini:"cheetah_path"`
	IndexamajigPath string `ini:"indexamajig_path"`
	ScriptPath      string `ini:"script_path"`
	IniFile         string `ini:"ini_file"`
}

// IntervalsSection holds polling intervals.
type IntervalsSection struct {
	WatchMS       int `ini:"watch_ms"`
	RescanSeconds int `ini:"rescan_seconds"`
	FollowSeconds int `ini:"follow_seconds"`
}

// LoggingSection configures file logging.
type LoggingSection struct {
	File string `ini:"file"`
}

// Validation errors
var (
	ErrDarkModeConflict    = errors.New("submit_dark2 and submit_dark_any cannot be enabled simultaneously")
	ErrInvalidMaxJobs      = errors.New("max_jobs must be at least 1")
	ErrInvalidParallelSize = errors.New("parallel_size must be between 1 and 10")
	ErrInvalidStation      = errors.New("station must be between 1 and 9")
	ErrInvalidMaxWatchers  = errors.New("max_watchers must be at least 1")
	ErrMissingQueueName    = errors.New("queue name is required")
	ErrInvalidInterval     = errors.New("intervals must be positive")
)

// DefaultConfigPath returns ~/.config/cheetah-dispatch/dispatcher.conf.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "dispatcher.conf"), nil
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		Dispatcher: DispatcherSection{
			WorkDir:      ".",
			ClenMM:       constants.DefaultClenMM,
			Station:      constants.DefaultStation,
			ParallelSize: constants.ParallelSize,
			MaxWatchers:  constants.DefaultMaxWatchers,
		},
		Queue: QueueSection{
			Name:                constants.DefaultQueueName,
			MaxJobs:             constants.DefaultMaxJobs,
			SubmitCommand:       "qsub",
			StatusCommand:       "qstat",
			CancelCommand:       "qdel",
			ScanIntervalSeconds: int(constants.AutoSubmitLongWait / time.Second),
			DebounceMS:          int(constants.AutoSubmitShortWait / time.Millisecond),
		},
		RunInfo: RunInfoSection{
			Command:     "ShowRunInfo",
			Beamline:    3,
			ReadyMarker: "Ready to Read",
		},
		Paths: PathsSection{
			IniFile: "../" + constants.DetectorIniName,
		},
		Intervals: IntervalsSection{
			WatchMS:       int(constants.WatchInterval / time.Millisecond),
			RescanSeconds: int(constants.RescanInterval / time.Second),
			FollowSeconds: int(constants.FollowInterval / time.Second),
		},
	}
}

// Load loads configuration from path. An empty path means the default
// location. A missing file yields defaults; an unreadable one is an error.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
	}

	d := iniFile.Section("dispatcher")
	cfg.Dispatcher.WorkDir = d.Key("work_dir").MustString(cfg.Dispatcher.WorkDir)
	cfg.Dispatcher.ClenMM = d.Key("clen").MustFloat64(cfg.Dispatcher.ClenMM)
	cfg.Dispatcher.Quick = d.Key("quick").MustBool(false)
	cfg.Dispatcher.Station = d.Key("station").MustInt(cfg.Dispatcher.Station)
	cfg.Dispatcher.ParallelSize = d.Key("parallel_size").MustInt(cfg.Dispatcher.ParallelSize)
	cfg.Dispatcher.SubmitDark2 = d.Key("submit_dark2").MustBool(false)
	cfg.Dispatcher.SubmitDarkAny = d.Key("submit_dark_any").MustBool(false)
	cfg.Dispatcher.CrystFELArgs = d.Key("crystfel_args").String()
	cfg.Dispatcher.MaxWatchers = d.Key("max_watchers").MustInt(cfg.Dispatcher.MaxWatchers)

	det := iniFile.Section("detector")
	cfg.Detector.PD1Name = strings.TrimSpace(det.Key("pd1_name").String())
	cfg.Detector.PD2Name = strings.TrimSpace(det.Key("pd2_name").String())
	cfg.Detector.PD3Name = strings.TrimSpace(det.Key("pd3_name").String())

	q := iniFile.Section("queue")
	cfg.Queue.Name = q.Key("name").MustString(cfg.Queue.Name)
	cfg.Queue.MaxJobs = q.Key("max_jobs").MustInt(cfg.Queue.MaxJobs)
	cfg.Queue.SubmitCommand = q.Key("submit_command").MustString(cfg.Queue.SubmitCommand)
	cfg.Queue.StatusCommand = q.Key("status_command").MustString(cfg.Queue.StatusCommand)
	cfg.Queue.CancelCommand = q.Key("cancel_command").MustString(cfg.Queue.CancelCommand)
	cfg.Queue.ScanIntervalSeconds = q.Key("scan_interval_seconds").MustInt(cfg.Queue.ScanIntervalSeconds)
	cfg.Queue.DebounceMS = q.Key("debounce_ms").MustInt(cfg.Queue.DebounceMS)

	ri := iniFile.Section("runinfo")
	cfg.RunInfo.Command = ri.Key("command").MustString(cfg.RunInfo.Command)
	cfg.RunInfo.Beamline = ri.Key("beamline").MustInt(cfg.RunInfo.Beamline)
	cfg.RunInfo.ReadyMarker = ri.Key("ready_marker").MustString(cfg.RunInfo.ReadyMarker)

	p := iniFile.Section("paths")
	cfg.Paths.SetupScript = p.Key("setup_script").String()
	cfg.Paths.CheetahPath = p.Key("cheetah_path").String()
	cfg.Paths.IndexamajigPath = p.Key("indexamajig_path").String()
	cfg.Paths.ScriptPath = p.Key("script_path").String()
	cfg.Paths.IniFile = p.Key("ini_file").MustString(cfg.Paths.IniFile)

	iv := iniFile.Section("intervals")
	cfg.Intervals.WatchMS = iv.Key("watch_ms").MustInt(cfg.Intervals.WatchMS)
	cfg.Intervals.RescanSeconds = iv.Key("rescan_seconds").MustInt(cfg.Intervals.RescanSeconds)
	cfg.Intervals.FollowSeconds = iv.Key("follow_seconds").MustInt(cfg.Intervals.FollowSeconds)

	cfg.Logging.File = iniFile.Section("logging").Key("file").String()

	return cfg, nil
}

// Save writes cfg to path (default location when empty) atomically.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()
	sections := []struct {
		name string
		src  interface{}
	}{
		{"dispatcher", &cfg.Dispatcher},
		{"detector", &cfg.Detector},
		{"queue", &cfg.Queue},
		{"runinfo", &cfg.RunInfo},
		{"paths", &cfg.Paths},
		{"intervals", &cfg.Intervals},
		{"logging", &cfg.Logging},
	}
	for _, s := range sections {
		section, err := iniFile.NewSection(s.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		if err := section.ReflectFrom(s.src); err != nil {
			return fmt.Errorf("failed to write %s section: %w", s.name, err)
		}
	}

	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// Validate checks settings that must hold for the whole process. It is
// called once at process start.
func (cfg *Config) Validate() error {
	if cfg.Dispatcher.SubmitDark2 && cfg.Dispatcher.SubmitDarkAny {
		return ErrDarkModeConflict
	}
	if strings.TrimSpace(cfg.Queue.Name) == "" {
		return ErrMissingQueueName
	}
	if cfg.Queue.MaxJobs < 1 {
		return ErrInvalidMaxJobs
	}
	if cfg.Dispatcher.ParallelSize < 1 || cfg.Dispatcher.ParallelSize > 10 {
		return ErrInvalidParallelSize
	}
	if cfg.Dispatcher.Station < 1 || cfg.Dispatcher.Station > 9 {
		return ErrInvalidStation
	}
	if cfg.Dispatcher.MaxWatchers < 1 {
		return ErrInvalidMaxWatchers
	}
	if cfg.Intervals.WatchMS <= 0 || cfg.Intervals.RescanSeconds <= 0 ||
		cfg.Intervals.FollowSeconds <= 0 || cfg.Queue.ScanIntervalSeconds <= 0 ||
		cfg.Queue.DebounceMS < 0 {
		return ErrInvalidInterval
	}
	return nil
}

// WatchInterval returns the per-job status polling interval.
func (cfg *Config) WatchInterval() time.Duration {
	return time.Duration(cfg.Intervals.WatchMS) * time.Millisecond
}

// RescanInterval returns the work directory rescan interval.
func (cfg *Config) RescanInterval() time.Duration {
	return time.Duration(cfg.Intervals.RescanSeconds) * time.Second
}

// FollowInterval returns the readiness polling interval.
func (cfg *Config) FollowInterval() time.Duration {
	return time.Duration(cfg.Intervals.FollowSeconds) * time.Second
}

// ScanInterval returns the pause between auto submission scans.
func (cfg *Config) ScanInterval() time.Duration {
	return time.Duration(cfg.Queue.ScanIntervalSeconds) * time.Second
}

// Debounce returns the auto submission debounce wait.
func (cfg *Config) Debounce() time.Duration {
	return time.Duration(cfg.Queue.DebounceMS) * time.Millisecond
}

// ClenMeters returns the camera length in metres as written into geometry files.
func (cfg *Config) ClenMeters() float64 {
	return cfg.Dispatcher.ClenMM / 1e3
}
