package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sacla-sfx/cheetah-dispatch/internal/autosubmit"
	"github.com/sacla-sfx/cheetah-dispatch/internal/config"
	"github.com/sacla-sfx/cheetah-dispatch/internal/constants"
	"github.com/sacla-sfx/cheetah-dispatch/internal/dispatch"
	"github.com/sacla-sfx/cheetah-dispatch/internal/events"
	"github.com/sacla-sfx/cheetah-dispatch/internal/jobdir"
	"github.com/sacla-sfx/cheetah-dispatch/internal/logging"
	"github.com/sacla-sfx/cheetah-dispatch/internal/planner"
	"github.com/sacla-sfx/cheetah-dispatch/internal/queue"
	"github.com/sacla-sfx/cheetah-dispatch/internal/runinfo"
)

// ErrMissingDetectorIni is returned when the work directory has no
// detector configuration.
var ErrMissingDetectorIni = errors.New("detector configuration not found")

// queueFlags override the [queue] section.
type queueFlags struct {
	name    string
	maxJobs int
	quick   bool
}

func (f *queueFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "queue", "", "Batch queue name (overrides config)")
	cmd.Flags().IntVar(&f.maxJobs, "max-jobs", 0, "Queue occupancy cap for auto submission (overrides config)")
	cmd.Flags().BoolVar(&f.quick, "quick", false, "Submit masters now and leave children to the auto submitter")
}

func (f *queueFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if f.name != "" {
		cfg.Queue.Name = f.name
	}
	if f.maxJobs > 0 {
		cfg.Queue.MaxJobs = f.maxJobs
	}
	if cmd.Flags().Changed("quick") {
		cfg.Dispatcher.Quick = f.quick
	}
}

// paramFlags collect the per-submission processing parameters.
type paramFlags struct {
	maxI    int
	station int
	pd      [3]float64
}

func (f *paramFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.maxI, "max-i", 0, "Maximum pixel intensity passed to the frame processor")
	cmd.Flags().IntVar(&f.station, "station", 0, "Experimental station (default from config)")
	cmd.Flags().Float64Var(&f.pd[0], "pd1", 0, "Light/dark threshold of sensor 1 (0 = unused)")
	cmd.Flags().Float64Var(&f.pd[1], "pd2", 0, "Light/dark threshold of sensor 2 (0 = unused)")
	cmd.Flags().Float64Var(&f.pd[2], "pd3", 0, "Light/dark threshold of sensor 3 (0 = unused)")
}

func (f *paramFlags) params(cfg *config.Config) dispatch.Params {
	station := f.station
	if station == 0 {
		station = cfg.Dispatcher.Station
	}
	return dispatch.Params{MaxI: f.maxI, Station: station, Thresholds: f.pd}
}

// app is the wired dispatcher used by every command.
type app struct {
	cfg       *config.Config
	root      string
	bus       *events.EventBus
	queue     *queue.PBS
	scheduler *autosubmit.Scheduler
	ctrl      *dispatch.Controller
	logger    *logging.Logger
}

type appOptions struct {
	snapshot  string
	scheduler bool
	follow    bool
}

func newApp(cfg *config.Config, opts appOptions, log *logging.Logger) (*app, error) {
	root, err := filepath.Abs(cfg.Dispatcher.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("invalid work directory: %w", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("work directory %s does not exist", root)
	}

	a := &app{
		cfg:    cfg,
		root:   root,
		bus:    events.NewEventBus(0),
		logger: log,
	}
	a.queue = queue.NewPBS(queue.Config{
		Name:          cfg.Queue.Name,
		SubmitCommand: cfg.Queue.SubmitCommand,
		StatusCommand: cfg.Queue.StatusCommand,
		CancelCommand: cfg.Queue.CancelCommand,
	}, nil, log)

	deps := dispatch.Deps{
		Planner: planner.New(planner.Options{
			PD1Name:       cfg.Detector.PD1Name,
			PD2Name:       cfg.Detector.PD2Name,
			PD3Name:       cfg.Detector.PD3Name,
			SubmitDark2:   cfg.Dispatcher.SubmitDark2,
			SubmitDarkAny: cfg.Dispatcher.SubmitDarkAny,
			ParallelSize:  cfg.Dispatcher.ParallelSize,
		}),
		Queue:  a.queue,
		Bus:    a.bus,
		Logger: log,
	}
	if opts.scheduler || cfg.Dispatcher.Quick {
		a.scheduler = autosubmit.New(autosubmit.Config{
			Root:         root,
			MaxJobs:      cfg.Queue.MaxJobs,
			ScanInterval: cfg.ScanInterval(),
			Debounce:     cfg.Debounce(),
		}, a.queue, a.bus, log.Child("component", "autosubmit"))
		deps.Scheduler = a.scheduler
	}
	if opts.follow {
		deps.Oracle = runinfo.NewCommand(runinfo.Config{
			Command:     cfg.RunInfo.Command,
			Beamline:    cfg.RunInfo.Beamline,
			ReadyMarker: cfg.RunInfo.ReadyMarker,
		}, nil)
	}

	a.ctrl = dispatch.New(dispatch.Options{
		Root:           root,
		Quick:          cfg.Dispatcher.Quick,
		MaxWatchers:    cfg.Dispatcher.MaxWatchers,
		WatchInterval:  cfg.WatchInterval(),
		RescanInterval: cfg.RescanInterval(),
		FollowInterval: cfg.FollowInterval(),
		Script:         scriptDefaults(cfg),
		SnapshotPath:   opts.snapshot,
	}, deps)
	return a, nil
}

func scriptDefaults(cfg *config.Config) jobdir.ScriptParams {
	return jobdir.ScriptParams{
		QueueName:       cfg.Queue.Name,
		ClenMeters:      cfg.ClenMeters(),
		CrystFELArgs:    cfg.Dispatcher.CrystFELArgs,
		IniFile:         cfg.Paths.IniFile,
		DarkWaitTries:   constants.DarkWaitTries,
		RunInfoCommand:  cfg.RunInfo.Command,
		Beamline:        cfg.RunInfo.Beamline,
		SetupScript:     cfg.Paths.SetupScript,
		CheetahPath:     cfg.Paths.CheetahPath,
		IndexamajigPath: cfg.Paths.IndexamajigPath,
		ScriptPath:      cfg.Paths.ScriptPath,
	}
}

// checkDetectorIni refuses to submit from a directory without the detector
// configuration the job scripts reference.
func checkDetectorIni(root string) error {
	path := filepath.Join(root, constants.DetectorIniName)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s is missing; copy it into the work directory first",
			ErrMissingDetectorIni, path)
	}
	return nil
}

// useConfiguredLogFile switches to the [logging] file when no --log-file
// was given. Long-running commands fall back to the default log file.
func useConfiguredLogFile(cfg *config.Config, longRunning bool) {
	file, err := logFileFor(cfg, longRunning)
	if err != nil {
		GetLogger().Warn().Err(err).Msg("Logging to the console only")
		return
	}
	if file == "" || file == logFile {
		return
	}
	if logger != nil {
		logger.Close()
	}
	logger = newLogger(file)
}

func logFileFor(cfg *config.Config, longRunning bool) (string, error) {
	switch {
	case logFile != "":
		return logFile, nil
	case cfg.Logging.File != "":
		return cfg.Logging.File, nil
	case !longRunning:
		return "", nil
	}
	if err := config.EnsureLogDirectory(); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	return config.DefaultLogFile(), nil
}
