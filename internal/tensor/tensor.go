/*
PURPOSE:
  Dense float32 tensors laid out as N x C x spatial... (row-major, last axis fastest).
  This is the currency passed between the data loader, the model, the loss and the
  windowed inferer.

REQUIREMENTS:
  User-specified:
  - Carry image batches, label batches and logits of 3D volumes.

  Implementation-discovered:
  - Spatial rank is not fixed; 2D tests and 3D volumes share the same code.
  - Non-finite detection is needed for the validation NaN/Inf checks.

ARCHITECTURE INTEGRATION:
  - Used by: internal/data, internal/nn, internal/infer, internal/metric, internal/train

ERROR HANDLING:
  - Constructors return errors on shape/data mismatch; accessors assume valid tensors.

IMPLEMENTATION RULES:
  - Shape[0] is the batch axis, Shape[1] the channel axis.
  - Never share Data between tensors unless documented.

RELATED FILES:
  - internal/tensor/ops.go
  - internal/tensor/pool.go
*/

package tensor

import (
	"fmt"
	"math"
)

// Tensor is a dense float32 array with an explicit shape.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zero-filled tensor.
func New(shape ...int) *Tensor {
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, Numel(shape)),
	}
}

// FromData wraps data with the given shape. The slice is not copied.
func FromData(data []float32, shape ...int) (*Tensor, error) {
	if n := Numel(shape); n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Numel returns the element count of a shape.
func Numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Numel returns the number of elements.
func (t *Tensor) Numel() int {
	return len(t.Data)
}

// Batch returns the size of the leading axis.
func (t *Tensor) Batch() int {
	return t.Shape[0]
}

// Channels returns the size of the channel axis.
func (t *Tensor) Channels() int {
	return t.Shape[1]
}

// Spatial returns the spatial dimensions (everything after N and C).
func (t *Tensor) Spatial() []int {
	return t.Shape[2:]
}

// SpatialSize returns the voxel count of one channel of one item.
func (t *Tensor) SpatialSize() int {
	return Numel(t.Shape[2:])
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := New(t.Shape...)
	copy(out.Data, t.Data)
	return out
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// Scale multiplies every element by f in place.
func (t *Tensor) Scale(f float32) {
	for i := range t.Data {
		t.Data[i] *= f
	}
}

// HasNonFinite reports whether any element is NaN or ±Inf.
func (t *Tensor) HasNonFinite() bool {
	for _, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	return ShapeEqual(a.Shape, b.Shape)
}

// ShapeEqual compares two shapes element-wise.
func ShapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Item returns the sub-tensor view of item n (shares Data).
func (t *Tensor) Item(n int) *Tensor {
	stride := Numel(t.Shape[1:])
	shape := append([]int{1}, t.Shape[1:]...)
	return &Tensor{Shape: shape, Data: t.Data[n*stride : (n+1)*stride]}
}

// Stack concatenates single-item tensors along the batch axis.
func Stack(items []*Tensor) (*Tensor, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("stack: no tensors")
	}
	inner := items[0].Shape[1:]
	total := 0
	for i, it := range items {
		if !ShapeEqual(it.Shape[1:], inner) {
			return nil, fmt.Errorf("stack: item %d has shape %v, want [* %v]", i, it.Shape, inner)
		}
		total += it.Shape[0]
	}
	out := NewPooled(append([]int{total}, inner...)...)
	off := 0
	for _, it := range items {
		copy(out.Data[off:], it.Data)
		off += len(it.Data)
	}
	return out, nil
}
