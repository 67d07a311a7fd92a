/*
PURPOSE:
  Windowed (patchwise) inference for volumes larger than the training patch.
  Tiles the input with overlapping windows, runs the predictor on groups of
  windows and averages the overlapping logits back into a full-size output.

REQUIREMENTS:
  User-specified:
  - run(full_input, patch_size, batch_count, model, device) -> logits.

  Implementation-discovered:
  - Windows larger than the volume along an axis shrink to the volume size.
  - Window groups may run concurrently up to the device worker count; the
    stitching itself stays sequential so results do not depend on scheduling.

ARCHITECTURE INTEGRATION:
  - Called by: internal/train (Runner.ValidateEpoch)
  - Uses: internal/tensor, internal/device

ERROR HANDLING:
  - The first predictor error aborts the call and is returned.
*/

package infer

import (
	"fmt"
	"sync"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/device"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/tensor"
)

// Predictor is the forward half of a model.
type Predictor interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// SlidingWindow performs tiled inference with a fixed overlap ratio.
type SlidingWindow struct {
	Overlap float64
}

// NewSlidingWindow creates an inferer; overlap is clamped to [0, 0.95].
func NewSlidingWindow(overlap float64) *SlidingWindow {
	return &SlidingWindow{Overlap: min(max(overlap, 0), 0.95)}
}

type window struct {
	item  int
	start []int
}

// Infer runs p over every window of images (N x C x spatial) and returns
// N x classes x spatial logits.
func (s *SlidingWindow) Infer(images *tensor.Tensor, roi []int, swBatch int, p Predictor, dev device.Device) (*tensor.Tensor, error) {
	dims := images.Spatial()
	if len(roi) != len(dims) {
		return nil, fmt.Errorf("sliding window: roi rank %d does not match spatial rank %d", len(roi), len(dims))
	}
	if images.Batch() < 1 {
		return nil, fmt.Errorf("sliding window: empty batch")
	}
	if swBatch < 1 {
		swBatch = 1
	}
	size := make([]int, len(dims))
	for i := range dims {
		size[i] = min(roi[i], dims[i])
	}
	starts := s.starts(dims, size)

	var windows []window
	for n := 0; n < images.Batch(); n++ {
		for _, st := range starts {
			windows = append(windows, window{item: n, start: st})
		}
	}

	var groups [][]window
	for i := 0; i < len(windows); i += swBatch {
		groups = append(groups, windows[i:min(i+swBatch, len(windows))])
	}

	outputs := make([]*tensor.Tensor, len(groups))
	errs := make([]error, len(groups))
	workers := max(dev.Workers, 1)
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for gi, g := range groups {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			outputs[gi], errs[gi] = runGroup(images, g, size, p)
		}()
	}
	wg.Wait()

	var out, count *tensor.Tensor
	for gi, g := range groups {
		if errs[gi] != nil {
			return nil, errs[gi]
		}
		pred := outputs[gi]
		if out == nil {
			classes := pred.Channels()
			out = tensor.New(append([]int{images.Batch(), classes}, dims...)...)
			count = tensor.New(append([]int{1, 1}, dims...)...)
		}
		for wi, w := range g {
			if err := tensor.AddRegion(out.Item(w.item), pred.Item(wi), w.start); err != nil {
				return nil, err
			}
			if w.item == 0 {
				ones := tensor.New(append([]int{1, 1}, size...)...)
				ones.Fill(1)
				if err := tensor.AddRegion(count, ones, w.start); err != nil {
					return nil, err
				}
			}
		}
	}

	classes, vox := out.Channels(), out.SpatialSize()
	for n := 0; n < out.Batch(); n++ {
		for k := 0; k < classes; k++ {
			row := out.Data[(n*classes+k)*vox : (n*classes+k+1)*vox]
			for v := range row {
				row[v] /= count.Data[v]
			}
		}
	}
	return out, nil
}

func runGroup(images *tensor.Tensor, g []window, size []int, p Predictor) (*tensor.Tensor, error) {
	crops := make([]*tensor.Tensor, len(g))
	for i, w := range g {
		c, err := tensor.Crop(images.Item(w.item), w.start, size)
		if err != nil {
			return nil, err
		}
		crops[i] = c
	}
	batch, err := tensor.Stack(crops)
	if err != nil {
		return nil, err
	}

	pred, err := p.Forward(batch)
	if err != nil {
		return nil, fmt.Errorf("sliding window forward: %w", err)
	}
	if pred.Batch() != len(g) || !tensor.ShapeEqual(pred.Spatial(), size) {
		return nil, fmt.Errorf("sliding window: predictor returned %v for %d windows of %v", pred.Shape, len(g), size)
	}
	return pred, nil
}

// starts enumerates window origins so that every voxel is covered and the
// last window along each axis ends exactly at the border.
func (s *SlidingWindow) starts(dims, size []int) [][]int {
	perAxis := make([][]int, len(dims))
	for i := range dims {
		step := max(int(float64(size[i])*(1-s.Overlap)), 1)
		var pos []int
		for p := 0; ; p += step {
			if p+size[i] >= dims[i] {
				pos = append(pos, dims[i]-size[i])
				break
			}
			pos = append(pos, p)
		}
		perAxis[i] = pos
	}

	out := [][]int{{}}
	for _, pos := range perAxis {
		var next [][]int
		for _, prefix := range out {
			for _, p := range pos {
				next = append(next, append(append([]int(nil), prefix...), p))
			}
		}
		out = next
	}
	return out
}
