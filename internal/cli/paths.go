package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/checkpoint"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/engine"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/nn"
)

var pathsRunName string

// pathsCmd prints where a run's checkpoints land, without training.
var pathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Print the checkpoint and log paths of a run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("run-name") {
			cfg.RunName = pathsRunName
		}
		if cfg.RunName == "" {
			return errors.New("a run name is required (--run-name or run_name in the config)")
		}

		ckptDir := filepath.Join(cfg.OutputDir, engine.CheckpointDir)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "best:  %s\n", checkpoint.BestPath(ckptDir, cfg.RunName, nn.Architecture))
		fmt.Fprintf(out, "final: %s\n", checkpoint.FinalPath(ckptDir, cfg.RunName, nn.Architecture, cfg.Epochs))
		fmt.Fprintf(out, "logs:  %s\n", filepath.Join(cfg.OutputDir, engine.LogDir, cfg.RunName))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pathsCmd)
	pathsCmd.Flags().StringVar(&pathsRunName, "run-name", "", "run name")
}
