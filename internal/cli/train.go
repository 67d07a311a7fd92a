/*
PURPOSE:
  Defines the 'train' subcommand.
  Runs one supervised training run.

REQUIREMENTS:
  User-specified:
  - Run training with the configured hyperparameters.
  - Specific flags for overrides.

  Implementation-discovered:
  - Only flags the user actually set override the config file.
  - Ctrl-C cancels an in-flight pretrained weight download and otherwise
    ends the process (engine.Run owns the signal handling).

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Run()
  - Uses: internal/config

ERROR HANDLING:
  - Returns error if config load fails or the run fails.

USAGE:
  seg-trainer train --synthetic 8 --epochs 4 --run-name smoke
*/

package cli

import (
	"github.com/spf13/cobra"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/config"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/engine"
)

var trainFlags struct {
	epochs      int
	runName     string
	valInterval int
	inferDevice string
	datalist    string
	outputDir   string
	seed        uint64
	synthetic   int
	pretrained  string
	swBatchSize int
	numSamples  int
	workers     int
	overwrite   bool
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run a training session",
	Long: `Trains the segmentation network for the configured number of epochs.
Every val_interval epochs the full validation volumes are segmented with a
sliding window and scored with the Dice coefficient per label. When the
early-stopping tracker triggers, the best-model checkpoint is saved; at the
end the epoch<N> checkpoint is written.

Scalars go to TensorBoard event files, scalars.csv and scalars.jsonl under
<output-dir>/logs/<run-name>; checkpoints go to <output-dir>/net_params/<run-name>.`,
	Example: `  # Smoke run on generated volumes
  seg-trainer train --synthetic 8 --epochs 4 --run-name smoke

  # Train on a Decathlon datalist with validation every 5 epochs
  seg-trainer train --datalist ./data/dataset.json --val-interval 5 -o ./runs

  # Start from pretrained weights
  seg-trainer train --datalist ./data/dataset.json --pretrained https://example.org/voxelnet.ckpt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyTrainFlags(cmd, cfg)

		_, err = engine.Run(cmd.Context(), cfg, cmd.OutOrStdout())
		return err
	},
}

func applyTrainFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("epochs") {
		cfg.Epochs = trainFlags.epochs
	}
	if f.Changed("run-name") {
		cfg.RunName = trainFlags.runName
	}
	if f.Changed("val-interval") {
		cfg.ValInterval = trainFlags.valInterval
	}
	if f.Changed("infer-device") {
		cfg.InferDevice = trainFlags.inferDevice
	}
	if f.Changed("datalist") {
		cfg.Datalist = trainFlags.datalist
	}
	if f.Changed("output-dir") {
		cfg.OutputDir = trainFlags.outputDir
	}
	if f.Changed("seed") {
		cfg.Seed = trainFlags.seed
	}
	if f.Changed("synthetic") {
		cfg.Synthetic = trainFlags.synthetic
	}
	if f.Changed("pretrained") {
		cfg.Pretrained = trainFlags.pretrained
	}
	if f.Changed("sw-batch-size") {
		cfg.SWBatchSize = trainFlags.swBatchSize
	}
	if f.Changed("num-samples") {
		cfg.NumSamples = trainFlags.numSamples
	}
	if f.Changed("workers") {
		cfg.Workers = trainFlags.workers
	}
	if f.Changed("overwrite") {
		cfg.Overwrite = trainFlags.overwrite
	}
}

func init() {
	rootCmd.AddCommand(trainCmd)

	f := trainCmd.Flags()
	f.IntVar(&trainFlags.epochs, "epochs", 0, "number of training epochs")
	f.StringVar(&trainFlags.runName, "run-name", "", "run name used for checkpoint and log directories")
	f.IntVar(&trainFlags.valInterval, "val-interval", 0, "validate every N epochs")
	f.StringVar(&trainFlags.inferDevice, "infer-device", "", "device for sliding-window inference (cpu, cpu:N, auto)")
	f.StringVar(&trainFlags.datalist, "datalist", "", "Decathlon datalist JSON with training and testing sections")
	f.StringVarP(&trainFlags.outputDir, "output-dir", "o", "", "output directory for checkpoints and logs")
	f.Uint64Var(&trainFlags.seed, "seed", 0, "random seed")
	f.IntVar(&trainFlags.synthetic, "synthetic", 0, "train on N generated volumes instead of a datalist")
	f.StringVar(&trainFlags.pretrained, "pretrained", "", "checkpoint path or URL to start from")
	f.IntVar(&trainFlags.swBatchSize, "sw-batch-size", 0, "sliding-window batch size")
	f.IntVar(&trainFlags.numSamples, "num-samples", 0, "random patches per training volume")
	f.IntVar(&trainFlags.workers, "workers", 0, "data loader workers")
	f.BoolVar(&trainFlags.overwrite, "overwrite", false, "reuse an existing run directory (config default true; --overwrite=false refuses)")
}
