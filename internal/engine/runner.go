/*
PURPOSE:
  High-level runner that assembles one training run from the configuration
  and hands it to the supervisor.
  Config -> devices -> data -> model/optimizer -> checkpoints/telemetry -> loop.

REQUIREMENTS:
  User-specified:
  - Train on a datalist ("training" / "testing" sections) or on a synthetic
    dataset for smoke runs.
  - Optionally start from pretrained weights.
  - Refuse to reuse a run directory unless overwrite is set.

  Implementation-discovered:
  - Devices are resolved once here and logged; the supervisor never
    re-resolves them.
  - SIGINT is caught only while pretrained weights download; the epoch
    loop has no cancellation, so Ctrl-C during training ends the process.
  - The progress bar and the final report go to the CLI's stdout; logs go
    to output.Logger.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (train)
  - Uses: internal/config, internal/data, internal/nn, internal/infer,
    internal/metric, internal/checkpoint, internal/output, internal/train

ERROR HANDLING:
  - Setup errors abort before any epoch runs, with the failing step in the message.
  - Errors from the loop are returned with whatever summary was reached.

USAGE:
  summary, err := engine.Run(ctx, cfg, os.Stdout)

RELATED FILES:
  - internal/engine/client.go
  - internal/train/supervisor.go
*/

package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/checkpoint"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/config"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/data"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/device"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/infer"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/metric"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/model"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/nn"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/output"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/train"
)

// Directory names under the output directory.
const (
	CheckpointDir = "net_params"
	LogDir        = "logs"
)

// SlidingWindowOverlap is the fraction of a patch shared by neighbouring windows.
const SlidingWindowOverlap = 0.25

// interruptible derives the context for the pretrained download. Ctrl-C
// cancels the download; once stop is called, SIGINT kills the process again.
var interruptible = func(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}

// DefaultRunName returns a timestamped name with a short unique suffix.
func DefaultRunName() string {
	return fmt.Sprintf("%s_%s", time.Now().Format("20060102-150405"), uuid.NewString()[:8])
}

// Devices resolves the training and inference devices named in cfg.
func Devices(cfg *config.Config) (trainDev, inferDev device.Device, err error) {
	trainDev, err = device.Resolve(cfg.Device, device.Device{})
	if err != nil {
		return device.Device{}, device.Device{}, fmt.Errorf("training device: %w", err)
	}
	inferDev, err = device.Resolve(cfg.InferDevice, trainDev)
	if err != nil {
		return device.Device{}, device.Device{}, fmt.Errorf("inference device: %w", err)
	}
	return trainDev, inferDev, nil
}

// Datasets builds the training and validation datasets.
func Datasets(cfg *config.Config) (trainDS, valDS data.Dataset, err error) {
	trainOpts := volumeOptions(cfg, data.Train)
	valOpts := volumeOptions(cfg, data.Validate)

	if cfg.Synthetic > 0 {
		trainDS = &data.SyntheticDataset{N: cfg.Synthetic, Size: cfg.ImageSize, Seed: cfg.Seed, Opts: trainOpts}
		valDS = &data.SyntheticDataset{N: max(cfg.Synthetic/4, 1), Size: cfg.ImageSize, Seed: cfg.Seed + 1, Opts: valOpts}
		return trainDS, valDS, nil
	}

	trainEntries, err := data.LoadDatalist(cfg.Datalist, "training")
	if err != nil {
		return nil, nil, err
	}
	valEntries, err := data.LoadDatalist(cfg.Datalist, "testing")
	if err != nil {
		return nil, nil, err
	}
	return data.NewVolumeDataset(trainEntries, trainOpts), data.NewVolumeDataset(valEntries, valOpts), nil
}

func volumeOptions(cfg *config.Config, mode data.Mode) data.VolumeOptions {
	opts := data.DefaultVolumeOptions(mode)
	opts.ImageSize = cfg.ImageSize
	opts.PatchSize = cfg.PatchSize
	opts.NumSamples = cfg.NumSamples
	opts.CacheRate = cfg.CacheRate
	return opts
}

// Run executes one training run described by cfg.
func Run(ctx context.Context, cfg *config.Config, stdout io.Writer) (model.RunSummary, error) {
	if err := cfg.Validate(); err != nil {
		return model.RunSummary{}, err
	}
	labels, err := cfg.LabelNames()
	if err != nil {
		return model.RunSummary{}, err
	}
	if cfg.RunName == "" {
		cfg.RunName = DefaultRunName()
	}

	// 1. Devices
	trainDev, inferDev, err := Devices(cfg)
	if err != nil {
		return model.RunSummary{}, err
	}
	output.Logger.Info("Devices resolved",
		"train", trainDev.String(),
		"infer", inferDev.String(),
		"cpu", trainDev.Brand,
		"simd", trainDev.Features,
	)

	// 2. Data
	trainDS, valDS, err := Datasets(cfg)
	if err != nil {
		return model.RunSummary{}, err
	}
	trainLoader := data.NewLoader(trainDS, data.LoaderConfig{
		BatchSize: cfg.BatchSize,
		Shuffle:   true,
		Workers:   cfg.Workers,
		Seed:      cfg.Seed,
	})
	valLoader := data.NewLoader(valDS, data.LoaderConfig{
		BatchSize: 1,
		Workers:   cfg.Workers,
		Seed:      cfg.Seed,
	})
	output.Logger.Info("Datasets ready", "train_volumes", trainDS.Len(), "val_volumes", valDS.Len(), "synthetic", cfg.Synthetic > 0)

	// 3. Model and optimisation
	classes := len(labels) + 1
	net, err := nn.NewVoxelNet(nn.VoxelNetConfig{InChannels: 1, Classes: classes, Hidden: cfg.Hidden, Seed: cfg.Seed})
	if err != nil {
		return model.RunSummary{}, err
	}
	if cfg.Pretrained != "" {
		fetchCtx, stop := interruptible(ctx)
		err := NewFetcher(30*time.Second).LoadPretrained(fetchCtx, cfg.Pretrained, net.Parameters())
		stop()
		if err != nil {
			return model.RunSummary{}, err
		}
	}
	adamCfg := nn.DefaultAdamWConfig()
	adamCfg.LearningRate = cfg.LR
	adamCfg.WeightDecay = cfg.WeightDecay
	opt := nn.NewAdamW(net.Parameters(), adamCfg)
	scaler := nn.NewGradScaler(nn.DefaultGradScalerConfig())

	// 4. Checkpoints and telemetry
	store := checkpoint.NewStore(filepath.Join(cfg.OutputDir, CheckpointDir), cfg.RunName, nn.Architecture, net.Parameters())
	if err := store.Prepare(cfg.Overwrite); err != nil {
		return model.RunSummary{}, err
	}
	logDir := filepath.Join(cfg.OutputDir, LogDir, cfg.RunName)
	writer, err := output.OpenRunWriters(logDir)
	if err != nil {
		return model.RunSummary{}, err
	}
	progression := output.NewProgressionWriter(output.ProgressionPath(logDir))

	// 5. Loop
	polarity, err := train.ParsePolarity(cfg.EarlyStopping.Polarity)
	if err != nil {
		writer.Close()
		return model.RunSummary{}, err
	}
	action, err := train.ParseTriggerAction(cfg.EarlyStopping.OnTrigger)
	if err != nil {
		writer.Close()
		return model.RunSummary{}, err
	}

	runner := train.NewRunner(train.RunnerConfig{
		PatchSize:   cfg.PatchSize,
		SWBatchSize: cfg.SWBatchSize,
		AMP:         cfg.AMP,
		InferDevice: inferDev,
	}, net, nn.NewDiceCELoss(), opt, scaler, infer.NewSlidingWindow(SlidingWindowOverlap), metric.NewDiceMetric(classes))
	runner.SetProgress(output.NewEpochProgress(stdout, cfg.Epochs))

	sup, err := train.NewSupervisor(train.SupervisorConfig{
		RunName:     cfg.RunName,
		RunID:       store.RunID(),
		Epochs:      cfg.Epochs,
		ValInterval: cfg.ValInterval,
		Labels:      labels,
		OnTrigger:   action,
	}, runner, train.NewMetricTracker(cfg.EarlyStopping.Patience, cfg.EarlyStopping.Threshold, polarity), store, writer, progression)
	if err != nil {
		writer.Close()
		return model.RunSummary{}, err
	}

	output.Logger.Info("Starting training",
		"run", cfg.RunName,
		"run_id", store.RunID(),
		"epochs", cfg.Epochs,
		"val_interval", cfg.ValInterval,
		"logs", logDir,
		"progression", progression.Path(),
	)
	summary, err := sup.Run(trainLoader, valLoader)
	if err != nil {
		return summary, err
	}

	fmt.Fprintln(stdout, output.RenderReport(summary))
	return summary, nil
}
