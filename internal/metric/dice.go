/*
PURPOSE:
  Per-class Dice overlap accumulated over a whole validation epoch.

REQUIREMENTS:
  User-specified:
  - Background excluded; one score per foreground class.
  - Accumulate across batches, aggregate once, reset for the next epoch.

  Implementation-discovered:
  - A class absent from a label item has an undefined Dice for that item; it is
    skipped rather than counted as 0 or 1.
  - A class never present in the epoch aggregates to 0.

ARCHITECTURE INTEGRATION:
  - Called by: internal/train (Runner.ValidateEpoch)
  - Consumes: one-hot tensors from internal/tensor

ERROR HANDLING:
  - Shape mismatches are returned as errors.

RELATED FILES:
  - internal/tensor/ops.go (OneHot)
*/

package metric

import (
	"fmt"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/tensor"
)

// DiceMetric accumulates Dice coefficients per foreground class.
type DiceMetric struct {
	classes int // including background
	sums    []float64
	counts  []int
}

// NewDiceMetric creates a metric for classes channels (background is channel 0).
func NewDiceMetric(classes int) *DiceMetric {
	m := &DiceMetric{classes: classes}
	m.Reset()
	return m
}

// Classes returns the number of reported scores (background excluded).
func (m *DiceMetric) Classes() int {
	return m.classes - 1
}

// Update adds one batch of one-hot predictions and labels (N x classes x spatial).
func (m *DiceMetric) Update(pred, label *tensor.Tensor) error {
	if !tensor.SameShape(pred, label) {
		return fmt.Errorf("dice: prediction shape %v does not match label shape %v", pred.Shape, label.Shape)
	}
	if pred.Channels() != m.classes {
		return fmt.Errorf("dice: expected %d channels, got %d", m.classes, pred.Channels())
	}

	s := pred.SpatialSize()
	for n := 0; n < pred.Batch(); n++ {
		for k := 1; k < m.classes; k++ {
			off := (n*m.classes + k) * s
			var inter, p, y float64
			for v := 0; v < s; v++ {
				pv, yv := float64(pred.Data[off+v]), float64(label.Data[off+v])
				inter += pv * yv
				p += pv
				y += yv
			}
			if y == 0 {
				continue
			}
			m.sums[k-1] += 2 * inter / (p + y)
			m.counts[k-1]++
		}
	}
	return nil
}

// Aggregate returns the mean Dice per foreground class over everything seen since Reset.
func (m *DiceMetric) Aggregate() []float64 {
	out := make([]float64, len(m.sums))
	for i := range out {
		if m.counts[i] > 0 {
			out[i] = m.sums[i] / float64(m.counts[i])
		}
	}
	return out
}

// Reset clears the accumulated state.
func (m *DiceMetric) Reset() {
	m.sums = make([]float64, m.classes-1)
	m.counts = make([]int, m.classes-1)
}
