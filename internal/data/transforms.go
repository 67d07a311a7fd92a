package data

import (
	"fmt"
	"math/rand/v2"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/tensor"
)

// ScaleIntensityRange linearly maps [aMin, aMax] onto [bMin, bMax] in place,
// optionally clipping to the output range.
func ScaleIntensityRange(t *tensor.Tensor, aMin, aMax, bMin, bMax float32, clip bool) {
	span := aMax - aMin
	if span == 0 {
		t.Fill(bMin)
		return
	}
	lo, hi := min(bMin, bMax), max(bMin, bMax)
	for i, v := range t.Data {
		v = (v-aMin)/span*(bMax-bMin) + bMin
		if clip {
			v = min(max(v, lo), hi)
		}
		t.Data[i] = v
	}
}

// PadOrCropTo returns a copy of t whose spatial shape is size, cropping or
// zero-padding symmetrically around the center of each axis.
func PadOrCropTo(t *tensor.Tensor, size []int) (*tensor.Tensor, error) {
	dims := t.Spatial()
	if len(size) != len(dims) {
		return nil, fmt.Errorf("pad/crop: target rank %d does not match spatial rank %d", len(size), len(dims))
	}
	if tensor.ShapeEqual(dims, size) {
		return t.Clone(), nil
	}

	srcStart := make([]int, len(dims))
	dstStart := make([]int, len(dims))
	keep := make([]int, len(dims))
	for i := range dims {
		if dims[i] >= size[i] {
			srcStart[i] = (dims[i] - size[i]) / 2
			keep[i] = size[i]
		} else {
			dstStart[i] = (size[i] - dims[i]) / 2
			keep[i] = dims[i]
		}
	}
	region, err := tensor.Crop(t, srcStart, keep)
	if err != nil {
		return nil, err
	}
	out := tensor.New(append([]int{t.Batch(), t.Channels()}, size...)...)
	if err := tensor.AddRegion(out, region, dstStart); err != nil {
		return nil, err
	}
	return out, nil
}

// RandCropPosNeg draws num patches of the given size from an image/label
// pair. Each patch is centered on a foreground voxel with probability
// pos/(pos+neg) and on a background voxel otherwise; when the label has only
// one kind of voxel the other kind is used. Patches are clamped to the volume,
// and axes smaller than the patch keep their full extent.
func RandCropPosNeg(image, label *tensor.Tensor, size []int, num int, pos, neg float64, rng *rand.Rand) ([]Sample, error) {
	dims := label.Spatial()
	if !tensor.ShapeEqual(image.Spatial(), dims) {
		return nil, fmt.Errorf("rand crop: image %v and label %v differ", image.Shape, label.Shape)
	}
	if len(size) != len(dims) {
		return nil, fmt.Errorf("rand crop: patch rank %d does not match spatial rank %d", len(size), len(dims))
	}
	patch := make([]int, len(dims))
	for i := range dims {
		patch[i] = min(size[i], dims[i])
	}

	var fg, bg []int
	for v, l := range label.Data[:label.SpatialSize()] {
		if l > 0 {
			fg = append(fg, v)
		} else {
			bg = append(bg, v)
		}
	}
	ratio := 0.5
	if pos+neg > 0 {
		ratio = pos / (pos + neg)
	}

	out := make([]Sample, 0, num)
	for range num {
		pool := bg
		if len(bg) == 0 || (len(fg) > 0 && rng.Float64() < ratio) {
			pool = fg
		}
		center := unravel(pool[rng.IntN(len(pool))], dims)
		start := make([]int, len(dims))
		for i := range dims {
			start[i] = min(max(center[i]-patch[i]/2, 0), dims[i]-patch[i])
		}
		img, err := tensor.Crop(image, start, patch)
		if err != nil {
			return nil, err
		}
		lbl, err := tensor.Crop(label, start, patch)
		if err != nil {
			return nil, err
		}
		out = append(out, Sample{Image: img, Label: lbl})
	}
	return out, nil
}

func unravel(off int, dims []int) []int {
	idx := make([]int, len(dims))
	for i := len(dims) - 1; i >= 0; i-- {
		idx[i] = off % dims[i]
		off /= dims[i]
	}
	return idx
}
