/*
PURPOSE:
  Collaborator contracts of the training loop: model, loss, optimizer,
  scaler, inferer, metric, loader, checkpoint saver and epoch runner.

REQUIREMENTS:
  Implementation-discovered:
  - The supervisor and runner depend only on these interfaces so tests can
    drive them with mocks.
  - Loader batches are an iter.Seq2 so a loader error ends the epoch.

ARCHITECTURE INTEGRATION:
  - Implemented by: internal/nn, internal/infer, internal/metric,
    internal/data, internal/checkpoint
  - Used by: Runner, Supervisor

ERROR HANDLING:
  - ErrEmptyLoader marks an epoch that saw no batches.
*/

package train

import (
	"errors"
	"iter"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/data"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/device"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/infer"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/model"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/nn"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/tensor"
)

// ErrEmptyLoader is returned when an epoch sees no batches; its mean loss
// would be undefined.
var ErrEmptyLoader = errors.New("loader yielded no batches")

// Model is the network being trained.
type Model interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	Backward(gradLogits *tensor.Tensor) error
	Parameters() []*tensor.Parameter
	Train()
	Eval()
}

// Loss computes a scalar loss and its gradient with respect to the logits.
type Loss interface {
	Forward(logits, labels *tensor.Tensor) (float64, *tensor.Tensor, error)
}

// Optimizer updates the model parameters from their gradients.
type Optimizer interface {
	ZeroGrad()
	Step() error
	Parameters() []*tensor.Parameter
}

// GradScaler wraps the backward/step sequence for reduced precision.
type GradScaler interface {
	ScaleGrad(grad *tensor.Tensor)
	Unscale(opt nn.StepOptimizer) error
	Step(opt nn.StepOptimizer) error
	Update()
}

// Inferer runs windowed inference over full-size volumes.
type Inferer interface {
	Infer(images *tensor.Tensor, roi []int, swBatch int, p infer.Predictor, dev device.Device) (*tensor.Tensor, error)
}

// Metric accumulates per-class scores (background excluded) over an epoch.
type Metric interface {
	Update(pred, label *tensor.Tensor) error
	Aggregate() []float64
	Reset()
	Classes() int
}

// Loader yields a fresh batch sequence per call.
type Loader interface {
	Len() int
	Batches() iter.Seq2[*data.Batch, error]
}

// EpochRunner runs one pass over a loader.
type EpochRunner interface {
	TrainEpoch(l Loader) (float64, error)
	ValidateEpoch(l Loader) (float64, []float64, error)
}

// CheckpointSaver persists model parameters for the run.
type CheckpointSaver interface {
	SaveBest() (string, error)
	SaveFinal(epochs int) (string, error)
}

// EpochObserver is told about every finished epoch. Observers must not fail
// the run; they log their own errors.
type EpochObserver interface {
	EpochDone(m model.EpochMetrics)
}

// BatchProgress follows the batches of one pass.
type BatchProgress interface {
	Begin(phase string, batches int)
	Advance(loss float64)
	End()
}
