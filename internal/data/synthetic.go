package data

import (
	"math/rand/v2"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/tensor"
)

// SyntheticDataset generates noisy volumes containing an organ-like sphere
// (label 1) with a smaller lesion (label 2) inside. Item i is the same on
// every call for a given seed, so it can stand in for a real datalist in
// smoke runs and tests.
type SyntheticDataset struct {
	N    int
	Size []int
	Seed uint64
	Opts VolumeOptions
}

// Len returns N.
func (d *SyntheticDataset) Len() int {
	return d.N
}

// Get builds volume i and applies the mode's sampling.
func (d *SyntheticDataset) Get(i int, rng *rand.Rand) ([]Sample, error) {
	img, lbl := d.generate(i)
	if d.Opts.Mode == Validate {
		return []Sample{{Image: img, Label: lbl}}, nil
	}
	return RandCropPosNeg(img, lbl, d.Opts.PatchSize, max(d.Opts.NumSamples, 1), 1, 1, rng)
}

func (d *SyntheticDataset) generate(i int) (*tensor.Tensor, *tensor.Tensor) {
	r := rand.New(rand.NewPCG(d.Seed, uint64(i)+1))
	shape := append([]int{1, 1}, d.Size...)
	img, lbl := tensor.New(shape...), tensor.New(shape...)

	rank := len(d.Size)
	center := make([]float64, rank)
	lesion := make([]float64, rank)
	smallest := d.Size[0]
	for a, n := range d.Size {
		smallest = min(smallest, n)
		center[a] = float64(n) * (0.35 + 0.3*r.Float64())
	}
	radius := float64(smallest) * (0.2 + 0.1*r.Float64())
	inner := radius * 0.4
	for a := range lesion {
		lesion[a] = center[a] + (r.Float64()-0.5)*radius*0.6
	}

	for v := range img.Data {
		idx := unravel(v, d.Size)
		var dOrgan, dLesion float64
		for a, x := range idx {
			dOrgan += (float64(x) - center[a]) * (float64(x) - center[a])
			dLesion += (float64(x) - lesion[a]) * (float64(x) - lesion[a])
		}
		intensity := 0.1 + 0.05*r.NormFloat64()
		switch {
		case dLesion <= inner*inner:
			lbl.Data[v] = 2
			intensity = 0.9 + 0.05*r.NormFloat64()
		case dOrgan <= radius*radius:
			lbl.Data[v] = 1
			intensity = 0.5 + 0.05*r.NormFloat64()
		}
		img.Data[v] = float32(min(max(intensity, 0), 1))
	}
	return img, lbl
}
