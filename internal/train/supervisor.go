/*
PURPOSE:
  Drives a training run over epochs 1..N: trains every epoch, validates
  every val_interval epochs, feeds the mean score to the early-stopping
  tracker, saves checkpoints and records telemetry.

REQUIREMENTS:
  User-specified:
  - On trigger: save the best checkpoint, reset the tracker, then continue
    or stop depending on the configured action.
  - At the end: save the epoch<N> checkpoint and close the telemetry writer.
  - Scalars: "train/epoch loss", "val/epoch loss", "val/mean dice score",
    "val/<label> dice score", keyed by epoch and written on validation
    epochs only.

  Implementation-discovered:
  - The writer is owned by the supervisor from construction and closed on
    every exit path of Run, including collaborator failures.
  - Telemetry write failures are logged; they never abort training.

ARCHITECTURE INTEGRATION:
  - Constructed by: internal/engine
  - Uses: EpochRunner, MetricTracker, CheckpointSaver, output.SummaryWriter

ERROR HANDLING:
  - Any runner or checkpoint error aborts the run (no retries).
*/

package train

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/model"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/output"
)

// TriggerAction is what the supervisor does after saving on a trigger.
type TriggerAction string

const (
	ContinueOnTrigger TriggerAction = "continue"
	StopOnTrigger     TriggerAction = "stop"
)

// ParseTriggerAction accepts "continue" or "stop" (case-insensitive).
func ParseTriggerAction(s string) (TriggerAction, error) {
	switch a := TriggerAction(strings.ToLower(strings.TrimSpace(s))); a {
	case ContinueOnTrigger, StopOnTrigger:
		return a, nil
	case "":
		return ContinueOnTrigger, nil
	default:
		return "", fmt.Errorf("unknown early stopping action %q", s)
	}
}

// SupervisorConfig holds the loop settings.
type SupervisorConfig struct {
	RunName     string
	RunID       string
	Epochs      int
	ValInterval int
	// Labels names the foreground classes in class-index order (index 1 first).
	Labels    []string
	OnTrigger TriggerAction
}

// Supervisor owns the epoch loop of one run.
type Supervisor struct {
	cfg       SupervisorConfig
	runner    EpochRunner
	tracker   *MetricTracker
	saver     CheckpointSaver
	writer    output.SummaryWriter
	observers []EpochObserver
	now       func() time.Time
}

// NewSupervisor takes ownership of writer; Run closes it.
func NewSupervisor(cfg SupervisorConfig, runner EpochRunner, tracker *MetricTracker, saver CheckpointSaver, writer output.SummaryWriter, observers ...EpochObserver) (*Supervisor, error) {
	if cfg.Epochs < 1 {
		return nil, fmt.Errorf("epochs must be at least 1, got %d", cfg.Epochs)
	}
	if cfg.ValInterval < 1 {
		return nil, fmt.Errorf("validation interval must be at least 1, got %d", cfg.ValInterval)
	}
	if cfg.OnTrigger == "" {
		cfg.OnTrigger = ContinueOnTrigger
	}
	return &Supervisor{
		cfg:       cfg,
		runner:    runner,
		tracker:   tracker,
		saver:     saver,
		writer:    writer,
		observers: observers,
		now:       time.Now,
	}, nil
}

// Run trains for the configured epochs and returns a summary of the run.
func (s *Supervisor) Run(trainLoader, valLoader Loader) (summary model.RunSummary, err error) {
	defer func() {
		if cerr := s.writer.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("closing telemetry: %w", cerr))
		}
	}()

	start := s.now()
	summary = model.RunSummary{RunName: s.cfg.RunName, RunID: s.cfg.RunID, Epochs: s.cfg.Epochs}

	for epoch := 1; epoch <= s.cfg.Epochs; epoch++ {
		epochStart := s.now()
		m := model.EpochMetrics{Epoch: epoch, Epochs: s.cfg.Epochs}

		m.TrainLoss, err = s.runner.TrainEpoch(trainLoader)
		if err != nil {
			return summary, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		if epoch%s.cfg.ValInterval != 0 {
			output.Logger.Info("Epoch finished", "epoch", epoch, "train_loss", m.TrainLoss)
		} else {
			if err := s.validate(&m, valLoader); err != nil {
				return summary, fmt.Errorf("epoch %d: %w", epoch, err)
			}
			if !math.IsNaN(m.MeanScore) && (!summary.HasBest || m.MeanScore > summary.BestScore) {
				summary.BestScore, summary.BestEpoch, summary.HasBest = m.MeanScore, epoch, true
			}

			if s.tracker.Observe(m.MeanScore) {
				m.Triggered = true
				path, err := s.saver.SaveBest()
				if err != nil {
					return summary, fmt.Errorf("epoch %d: saving best checkpoint: %w", epoch, err)
				}
				s.tracker.Reset()
				summary.Triggers++
				summary.BestCheckpoint = path
				output.Logger.Info("Early stopping triggered, checkpoint saved", "epoch", epoch, "path", path, "action", s.cfg.OnTrigger)
			}
		}

		m.Duration = s.now().Sub(epochStart)
		summary.Completed = epoch
		for _, o := range s.observers {
			o.EpochDone(m)
		}

		if m.Triggered && s.cfg.OnTrigger == StopOnTrigger {
			summary.Stopped = true
			break
		}
	}

	path, err := s.saver.SaveFinal(s.cfg.Epochs)
	if err != nil {
		return summary, fmt.Errorf("saving final checkpoint: %w", err)
	}
	summary.FinalCheckpoint = path
	summary.Duration = s.now().Sub(start)
	output.Logger.Info("Training finished", "epochs", summary.Completed, "final_checkpoint", path)
	return summary, nil
}

func (s *Supervisor) validate(m *model.EpochMetrics, l Loader) error {
	valLoss, scores, err := s.runner.ValidateEpoch(l)
	if err != nil {
		return err
	}
	m.Validated = true
	m.ValLoss = valLoss
	m.MeanScore = mean(scores)
	m.Scores = make(map[string]float64, len(scores))

	args := []any{"epoch", m.Epoch, "train_loss", m.TrainLoss, "val_loss", valLoss, "mean_score", m.MeanScore}
	for i, score := range scores {
		label := s.label(i)
		m.Scores[label] = score
		args = append(args, label, score)
	}
	output.Logger.Info("Epoch finished", args...)

	s.scalar("train/epoch loss", m.TrainLoss, m.Epoch)
	s.scalar("val/epoch loss", valLoss, m.Epoch)
	s.scalar("val/mean dice score", m.MeanScore, m.Epoch)
	for i, score := range scores {
		s.scalar(fmt.Sprintf("val/%s dice score", s.label(i)), score, m.Epoch)
	}
	return nil
}

func (s *Supervisor) label(i int) string {
	if i < len(s.cfg.Labels) {
		return s.cfg.Labels[i]
	}
	return fmt.Sprintf("class%d", i+1)
}

func (s *Supervisor) scalar(tag string, value float64, epoch int) {
	if err := s.writer.AddScalar(tag, value, epoch); err != nil {
		output.Logger.Warn("Failed to record scalar", "tag", tag, "epoch", epoch, "error", err)
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
