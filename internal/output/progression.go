/*
PURPOSE:
  Writes training_progression.json after every epoch so operators can poll
  a run's status without reading the logs.

REQUIREMENTS:
  Implementation-discovered:
  - The file is replaced atomically so readers never see a partial write.
  - SEGTRAIN_PROGRESSION_FILE overrides the path.
  - Non-finite metrics are written as strings ("NaN", "+Inf").

ARCHITECTURE INTEGRATION:
  - Registered by: internal/engine as a Supervisor observer

ERROR HANDLING:
  - Write failures are logged and never stop training.
*/

package output

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/model"
)

const (
	// ProgressionFileName is the status file written next to the run logs.
	ProgressionFileName = "training_progression.json"
	// ProgressionFileEnv overrides the status file path.
	ProgressionFileEnv = "SEGTRAIN_PROGRESSION_FILE"
)

// Progression is the status snapshot rewritten after every epoch, in the
// layout training operators poll for.
type Progression struct {
	CurrentEpoch    int64          `json:"current_epoch"`
	TotalEpochs     int64          `json:"total_epochs"`
	Message         string         `json:"message,omitempty"`
	TrainingMetrics map[string]any `json:"training_metrics,omitempty"`
	Metrics         map[string]any `json:"metrics,omitempty"`
	Timestamp       int64          `json:"timestamp"`
	StartTime       int64          `json:"start_time"`
}

// ProgressionWriter keeps the status file current.
type ProgressionWriter struct {
	path  string
	start time.Time
}

// ProgressionPath returns the status file path for a log directory,
// honouring SEGTRAIN_PROGRESSION_FILE.
func ProgressionPath(logDir string) string {
	if p := os.Getenv(ProgressionFileEnv); p != "" {
		return p
	}
	return filepath.Join(logDir, ProgressionFileName)
}

// NewProgressionWriter writes to path.
func NewProgressionWriter(path string) *ProgressionWriter {
	return &ProgressionWriter{path: path, start: time.Now()}
}

// Path returns the status file path.
func (p *ProgressionWriter) Path() string {
	return p.path
}

// EpochDone rewrites the status file. Failures are logged, never returned.
func (p *ProgressionWriter) EpochDone(m model.EpochMetrics) {
	status := Progression{
		CurrentEpoch:    int64(m.Epoch),
		TotalEpochs:     int64(m.Epochs),
		TrainingMetrics: map[string]any{"loss": finiteOrString(m.TrainLoss)},
		Timestamp:       time.Now().Unix(),
		StartTime:       p.start.Unix(),
	}
	if m.Validated {
		metrics := map[string]any{
			"val_loss":   finiteOrString(m.ValLoss),
			"mean_score": finiteOrString(m.MeanScore),
		}
		for label, s := range m.Scores {
			metrics[label+"_score"] = finiteOrString(s)
		}
		status.Metrics = metrics
	}
	if m.Triggered {
		status.Message = "best checkpoint saved"
	}

	if err := writeJSONAtomic(p.path, status); err != nil {
		Logger.Warn("Failed to write progression status", "path", p.path, "error", err)
	}
}

func finiteOrString(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return formatFloat(v)
	}
	return v
}

func writeJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
