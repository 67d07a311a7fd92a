/*
PURPOSE:
  Defines the records exchanged between the training loop and the
  telemetry/report writers.

REQUIREMENTS:
  User-specified:
  - Scalars keyed by epoch: train/val loss, mean and per-class score.

  Implementation-discovered:
  - Need JSON tags for the NDJSON and progression files.

ARCHITECTURE INTEGRATION:
  - Used by: internal/train, internal/output, internal/engine
  - Shared across boundaries.

ERROR HANDLING:
  - None (pure data structs).

IMPLEMENTATION RULES:
  - Keep structs simple and public.

RELATED FILES:
  - internal/output/csv.go
  - internal/output/json.go
  - internal/output/progression.go
*/

package model

import (
	"time"
)

// Scalar is one telemetry value.
type Scalar struct {
	Step      int       `json:"step"`
	Tag       string    `json:"tag"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// EpochMetrics is what one epoch of the supervisor produced.
type EpochMetrics struct {
	Epoch     int                `json:"epoch"`
	Epochs    int                `json:"epochs"`
	TrainLoss float64            `json:"train_loss"`
	Validated bool               `json:"validated"`
	ValLoss   float64            `json:"val_loss,omitempty"`
	MeanScore float64            `json:"mean_score,omitempty"`
	Scores    map[string]float64 `json:"scores,omitempty"` // per label, background excluded
	Triggered bool               `json:"triggered,omitempty"`
	Duration  time.Duration      `json:"duration"`
}

// RunSummary describes a finished run.
type RunSummary struct {
	RunName         string        `json:"run_name"`
	RunID           string        `json:"run_id"`
	Epochs          int           `json:"epochs"`
	Completed       int           `json:"completed"`
	BestScore       float64       `json:"best_score"`
	BestEpoch       int           `json:"best_epoch"`
	HasBest         bool          `json:"has_best"`
	Triggers        int           `json:"triggers"`
	Stopped         bool          `json:"stopped"`
	BestCheckpoint  string        `json:"best_checkpoint,omitempty"`
	FinalCheckpoint string        `json:"final_checkpoint"`
	Duration        time.Duration `json:"duration"`
}
