/*
PURPOSE:
  Defines the root Cobra command for the seg-trainer CLI.
  Handles global flags and command initialization.

REQUIREMENTS:
  User-specified:
  - Provide a CLI interface.
  - Support global flags like --config, --log-level and --log-format.

  Implementation-discovered:
  - Needs to expose an Execute() function for main.go.
  - Logging is configured before any subcommand runs so config loading
    itself is logged in the requested format.

ARCHITECTURE INTEGRATION:
  - Called by: cmd/seg-trainer/main.go
  - Calls: Child commands (train, device, paths)

ERROR HANDLING:
  - Returns error to main.go for exit code handling.

RELATED FILES:
  - cmd/seg-trainer/main.go
*/

package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/config"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/output"
)

var (
	// cfgFile stores the path to the config file (if specified via flag)
	cfgFile   string
	logLevel  string
	logFormat string

	rootCmd = &cobra.Command{
		Use:           "seg-trainer",
		Short:         "Supervised training of 3D segmentation networks",
		Long:          `Trains a voxel segmentation network on CT volumes with periodic sliding-window validation, Dice-driven early stopping and checkpointing. Use 'train --help' for run options.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./seg_trainer.yaml or ./trainer.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (overrides config)")
}

// loadConfig loads the configuration and configures logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if err := output.Configure(os.Stderr, cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	return cfg, nil
}
