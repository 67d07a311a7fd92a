package tensor

import (
	"fmt"
	"math"
)

// Softmax applies a softmax over the channel axis and returns a new tensor.
func Softmax(logits *Tensor) *Tensor {
	out := New(logits.Shape...)
	n, c, s := logits.Batch(), logits.Channels(), logits.SpatialSize()
	for b := 0; b < n; b++ {
		base := b * c * s
		for v := 0; v < s; v++ {
			maxV := float32(math.Inf(-1))
			for k := 0; k < c; k++ {
				if x := logits.Data[base+k*s+v]; x > maxV {
					maxV = x
				}
			}
			var sum float64
			for k := 0; k < c; k++ {
				e := math.Exp(float64(logits.Data[base+k*s+v] - maxV))
				out.Data[base+k*s+v] = float32(e)
				sum += e
			}
			for k := 0; k < c; k++ {
				out.Data[base+k*s+v] = float32(float64(out.Data[base+k*s+v]) / sum)
			}
		}
	}
	return out
}

// Argmax returns N x 1 x spatial class indices over the channel axis.
// Ties resolve to the lowest channel.
func Argmax(logits *Tensor) *Tensor {
	n, c, s := logits.Batch(), logits.Channels(), logits.SpatialSize()
	out := New(append([]int{n, 1}, logits.Spatial()...)...)
	for b := 0; b < n; b++ {
		base := b * c * s
		for v := 0; v < s; v++ {
			best, bestV := 0, logits.Data[base+v]
			for k := 1; k < c; k++ {
				if x := logits.Data[base+k*s+v]; x > bestV {
					best, bestV = k, x
				}
			}
			out.Data[b*s+v] = float32(best)
		}
	}
	return out
}

// OneHot expands N x 1 x spatial class indices into N x classes x spatial.
func OneHot(labels *Tensor, classes int) (*Tensor, error) {
	if labels.Channels() != 1 {
		return nil, fmt.Errorf("one-hot: expected a single label channel, got %d", labels.Channels())
	}
	n, s := labels.Batch(), labels.SpatialSize()
	out := New(append([]int{n, classes}, labels.Spatial()...)...)
	for b := 0; b < n; b++ {
		for v := 0; v < s; v++ {
			k := int(labels.Data[b*s+v])
			if k < 0 || k >= classes {
				return nil, fmt.Errorf("one-hot: label %d outside [0,%d)", k, classes)
			}
			out.Data[(b*classes+k)*s+v] = 1
		}
	}
	return out, nil
}

// RoundBFloat16 rounds every element to the nearest bfloat16 value in place
// (round-half-to-even on the dropped mantissa bits). NaN is left untouched.
func RoundBFloat16(t *Tensor) {
	for i, v := range t.Data {
		if v != v {
			continue
		}
		bits := math.Float32bits(v)
		bits += 0x7FFF + ((bits >> 16) & 1)
		t.Data[i] = math.Float32frombits(bits & 0xFFFF0000)
	}
}

// Crop copies the spatial region [start, start+size) of every item and channel.
func Crop(t *Tensor, start, size []int) (*Tensor, error) {
	dims := t.Spatial()
	if err := checkRegion(dims, start, size); err != nil {
		return nil, err
	}
	out := New(append([]int{t.Batch(), t.Channels()}, size...)...)
	planes := t.Batch() * t.Channels()
	src, dst := t.SpatialSize(), Numel(size)
	for p := 0; p < planes; p++ {
		walkRegion(dims, start, size, func(srcOff, dstOff, run int) {
			copy(out.Data[p*dst+dstOff:p*dst+dstOff+run], t.Data[p*src+srcOff:p*src+srcOff+run])
		})
	}
	return out, nil
}

// AddRegion accumulates src (N x C x size) into the region of dst starting at start.
func AddRegion(dst, src *Tensor, start []int) error {
	dims, size := dst.Spatial(), src.Spatial()
	if err := checkRegion(dims, start, size); err != nil {
		return err
	}
	if dst.Batch() != src.Batch() || dst.Channels() != src.Channels() {
		return fmt.Errorf("add region: %v does not fit %v", src.Shape, dst.Shape)
	}
	planes := dst.Batch() * dst.Channels()
	dS, sS := dst.SpatialSize(), src.SpatialSize()
	for p := 0; p < planes; p++ {
		walkRegion(dims, start, size, func(dstOff, srcOff, run int) {
			d := dst.Data[p*dS+dstOff : p*dS+dstOff+run]
			s := src.Data[p*sS+srcOff : p*sS+srcOff+run]
			for i := range d {
				d[i] += s[i]
			}
		})
	}
	return nil
}

func checkRegion(dims, start, size []int) error {
	if len(start) != len(dims) || len(size) != len(dims) {
		return fmt.Errorf("region rank %d/%d does not match spatial rank %d", len(start), len(size), len(dims))
	}
	for i := range dims {
		if start[i] < 0 || size[i] <= 0 || start[i]+size[i] > dims[i] {
			return fmt.Errorf("region start %v size %v outside %v", start, size, dims)
		}
	}
	return nil
}

// walkRegion calls fn once per contiguous row of the region, with the offset
// inside the full volume, the offset inside the region and the row length.
func walkRegion(dims, start, size []int, fn func(fullOff, regionOff, run int)) {
	rank := len(dims)
	if rank == 0 {
		fn(0, 0, 1)
		return
	}
	strides := make([]int, rank)
	strides[rank-1] = 1
	for i := rank - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * dims[i+1]
	}
	idx := make([]int, rank-1)
	run := size[rank-1]
	regionOff := 0
	for {
		fullOff := start[rank-1]
		for i := 0; i < rank-1; i++ {
			fullOff += (start[i] + idx[i]) * strides[i]
		}
		fn(fullOff, regionOff, run)
		regionOff += run

		i := rank - 2
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < size[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}
