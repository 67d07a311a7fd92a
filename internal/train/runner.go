/*
PURPOSE:
  Runs one training or validation pass over a loader.

REQUIREMENTS:
  User-specified:
  - Train: per batch forward + loss under reduced precision, then
    zero -> scaled backward -> unscale -> step -> update; mean of batch losses.
  - Validate: windowed inference on the full-size input, loss against the
    full-size label, one-hot argmax vs one-hot label into the Dice metric;
    mean loss and per-class scores, metric reset afterwards.
  - Non-finite logits or loss are logged, never fatal.

  Implementation-discovered:
  - Reduced precision is emulated by rounding logits to bfloat16.
  - Batches go back to the tensor pool as soon as they are consumed.

ARCHITECTURE INTEGRATION:
  - Called by: Supervisor
  - Uses: internal/tensor, internal/output (Logger)

ERROR HANDLING:
  - Collaborator errors are wrapped with the phase and batch index.
  - An empty loader returns ErrEmptyLoader.
*/

package train

import (
	"fmt"
	"math"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/device"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/output"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/tensor"
)

// RunnerConfig holds the per-pass settings.
type RunnerConfig struct {
	PatchSize   []int
	SWBatchSize int
	AMP         bool
	InferDevice device.Device
}

// Runner implements EpochRunner.
type Runner struct {
	cfg      RunnerConfig
	model    Model
	loss     Loss
	opt      Optimizer
	scaler   GradScaler
	inferer  Inferer
	metric   Metric
	progress BatchProgress
}

// NewRunner wires the collaborators of one training run.
func NewRunner(cfg RunnerConfig, m Model, loss Loss, opt Optimizer, scaler GradScaler, inferer Inferer, metric Metric) *Runner {
	return &Runner{
		cfg:     cfg,
		model:   m,
		loss:    loss,
		opt:     opt,
		scaler:  scaler,
		inferer: inferer,
		metric:  metric,
	}
}

// SetProgress installs a progress display; nil disables it.
func (r *Runner) SetProgress(p BatchProgress) {
	r.progress = p
}

// TrainEpoch runs one optimisation pass and returns the mean batch loss.
func (r *Runner) TrainEpoch(l Loader) (float64, error) {
	r.model.Train()
	r.begin("train", l.Len())
	defer r.end()

	var sum float64
	n := 0
	for batch, err := range l.Batches() {
		if err != nil {
			return 0, fmt.Errorf("train batch %d: %w", n, err)
		}
		loss, err := r.trainStep(batch.Image, batch.Label)
		batch.Release()
		if err != nil {
			return 0, fmt.Errorf("train batch %d: %w", n, err)
		}
		sum += loss
		n++
		r.advance(loss)
	}
	if n == 0 {
		return 0, ErrEmptyLoader
	}
	return sum / float64(n), nil
}

func (r *Runner) trainStep(images, labels *tensor.Tensor) (float64, error) {
	r.opt.ZeroGrad()

	logits, err := r.model.Forward(images)
	if err != nil {
		return 0, err
	}
	if r.cfg.AMP {
		tensor.RoundBFloat16(logits)
	}
	loss, grad, err := r.loss.Forward(logits, labels)
	if err != nil {
		return 0, err
	}

	r.scaler.ScaleGrad(grad)
	if err := r.model.Backward(grad); err != nil {
		return 0, err
	}
	if err := r.scaler.Unscale(r.opt); err != nil {
		return 0, err
	}
	if err := r.scaler.Step(r.opt); err != nil {
		return 0, err
	}
	r.scaler.Update()
	return loss, nil
}

// ValidateEpoch runs windowed inference over every batch and returns the mean
// loss and the per-class scores (background excluded).
func (r *Runner) ValidateEpoch(l Loader) (float64, []float64, error) {
	r.model.Eval()
	defer r.model.Train()
	r.begin("val", l.Len())
	defer r.end()
	defer r.metric.Reset()

	classes := r.metric.Classes() + 1
	var sum float64
	n := 0
	for batch, err := range l.Batches() {
		if err != nil {
			return 0, nil, fmt.Errorf("validation batch %d: %w", n, err)
		}
		loss, err := r.validateStep(batch.Image, batch.Label, classes, n)
		batch.Release()
		if err != nil {
			return 0, nil, fmt.Errorf("validation batch %d: %w", n, err)
		}
		sum += loss
		n++
		r.advance(loss)
	}
	if n == 0 {
		return 0, nil, ErrEmptyLoader
	}

	return sum / float64(n), r.metric.Aggregate(), nil
}

func (r *Runner) validateStep(images, labels *tensor.Tensor, classes, index int) (float64, error) {
	logits, err := r.inferer.Infer(images, r.cfg.PatchSize, r.cfg.SWBatchSize, r.model, r.cfg.InferDevice)
	if err != nil {
		return 0, err
	}
	if r.cfg.AMP {
		tensor.RoundBFloat16(logits)
	}
	if logits.HasNonFinite() {
		output.Logger.Warn("Non-finite values in validation logits", "batch", index)
	}

	loss, _, err := r.loss.Forward(logits, labels)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		output.Logger.Warn("Non-finite validation loss", "batch", index, "loss", loss)
	}

	pred, err := tensor.OneHot(tensor.Argmax(logits), classes)
	if err != nil {
		return 0, err
	}
	target, err := tensor.OneHot(labels, classes)
	if err != nil {
		return 0, err
	}
	if err := r.metric.Update(pred, target); err != nil {
		return 0, err
	}
	return loss, nil
}

func (r *Runner) begin(phase string, batches int) {
	if r.progress != nil {
		r.progress.Begin(phase, batches)
	}
}

func (r *Runner) advance(loss float64) {
	if r.progress != nil {
		r.progress.Advance(loss)
	}
}

func (r *Runner) end() {
	if r.progress != nil {
		r.progress.End()
	}
}
