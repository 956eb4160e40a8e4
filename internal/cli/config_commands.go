package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sacla-sfx/cheetah-dispatch/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage cheetah-dispatch configuration",
		Long: `Configuration management commands for cheetah-dispatch.

Commands:
  init      - Interactive configuration setup
  show      - Display current configuration
  validate  - Check the configuration file
  path      - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigValidateCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var (
		force    bool
		defaults bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup. The configuration is saved to
~/.config/cheetah-dispatch/dispatcher.conf unless --config is given.

Use --force to overwrite an existing configuration and --defaults to write
the defaults without asking.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				var err error
				if path, err = config.DefaultConfigPath(); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg := config.NewConfig()
			if !defaults {
				askConfig(bufio.NewReader(cmd.InOrStdin()), out, cfg)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Fprintf(out, "Configuration saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Write defaults without prompting")
	return cmd
}

// askConfig prompts for the settings operators usually change. Empty
// answers keep the current value.
func askConfig(r *bufio.Reader, w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "cheetah-dispatch Configuration Setup")
	fmt.Fprintln(w, "====================================")
	fmt.Fprintln(w)

	cfg.Dispatcher.WorkDir = askString(r, w, "Work directory", cfg.Dispatcher.WorkDir)
	cfg.Queue.Name = askString(r, w, "Queue name", cfg.Queue.Name)
	cfg.Queue.MaxJobs = askInt(r, w, "Max jobs in queue for auto submission", cfg.Queue.MaxJobs)
	cfg.Dispatcher.ClenMM = askFloat(r, w, "Camera length (mm)", cfg.Dispatcher.ClenMM)
	cfg.Dispatcher.Station = askInt(r, w, "Station", cfg.Dispatcher.Station)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Light/dark sensors (leave empty to disable)")
	fmt.Fprintln(w, "-------------------------------------------")
	cfg.Detector.PD1Name = askString(r, w, "Sensor 1 name", cfg.Detector.PD1Name)
	cfg.Detector.PD2Name = askString(r, w, "Sensor 2 name", cfg.Detector.PD2Name)
	cfg.Detector.PD3Name = askString(r, w, "Sensor 3 name", cfg.Detector.PD3Name)
}

func askString(r *bufio.Reader, w io.Writer, label, def string) string {
	fmt.Fprintf(w, "%s [%s]: ", label, def)
	input, _ := r.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

func askInt(r *bufio.Reader, w io.Writer, label string, def int) int {
	s := askString(r, w, label, strconv.Itoa(def))
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

func askFloat(r *bufio.Reader, w io.Writer, label string, def float64) float64 {
	s := askString(r, w, label, strconv.FormatFloat(def, 'f', -1, 64))
	if v, err := strconv.ParseFloat(s, 64); err == nil && v > 0 {
		return v
	}
	return def
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long:  `Display the effective configuration: file values with flag overrides applied.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if workDir != "" {
				cfg.Dispatcher.WorkDir = workDir
			}
			return writeYAML(cmd.OutOrStdout(), cfg)
		},
	}
}

// newConfigValidateCmd creates the 'config validate' command.
func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
			return nil
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				var err error
				if path, err = config.DefaultConfigPath(); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
