// Package cli provides the command-line interface for cheetah-dispatch.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sacla-sfx/cheetah-dispatch/internal/config"
	"github.com/sacla-sfx/cheetah-dispatch/internal/logging"
)

var (
	// Global flags
	cfgFile string
	workDir string
	logFile string
	verbose bool
	debug   bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// Version information, set by the main package at startup.
var (
	Version   = "v0.0.0-dev"
	BuildTime = "unknown"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cheetah-dispatch",
		Short: "Batch dispatcher for SFX detector runs",
		Long: `cheetah-dispatch ` + Version + ` - Built: ` + BuildTime + `
Creates one working directory per processing job, submits jobs to the batch
queue, and follows their progress through the status files they write.

Run specifications:
  N      a single run
  N-M    an inclusive range (at most 100 runs apart)
  N-     follow runs from N as the facility reports them ready (run only)`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = newLogger(logFile)
			if verbose || debug {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path (default ~/.config/cheetah-dispatch/dispatcher.conf)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "work-dir", "d", "", "Directory holding the job directories (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file, rotated")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")

	rootCmd.Version = Version + " (" + BuildTime + ")"

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, shutting down...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)
	if logger != nil {
		logger.Close()
	}
	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newSubmitCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newSummaryCmd())
	rootCmd.AddCommand(newKillCmd())
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context, cancelled on SIGINT/SIGTERM.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

func newLogger(file string) *logging.Logger {
	if file == "" {
		return logging.NewLogger(logging.Config{Console: os.Stderr})
	}
	if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot create log directory: %v\n", err)
		return logging.NewLogger(logging.Config{Console: os.Stderr})
	}
	return logging.NewLogger(logging.Config{Console: os.Stderr, File: file})
}

// loadConfig loads the configuration file, applies global flag overrides
// and validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if workDir != "" {
		cfg.Dispatcher.WorkDir = workDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
