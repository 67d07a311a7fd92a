/*
PURPOSE:
  Datasets that turn datalist entries (or generated volumes) into
  preprocessed image/label samples, and the Batch type the loader emits.

REQUIREMENTS:
  User-specified:
  - Training yields num_samples random patches per volume (pos/neg crops).
  - Validation yields the full-size (padded/cropped) volume.

  Implementation-discovered:
  - Decoding NIfTI is the slow part; a configurable fraction of
    preprocessed volumes is kept in memory across epochs.

ARCHITECTURE INTEGRATION:
  - Called by: internal/data/loader.go, internal/engine
  - Uses: internal/tensor

ERROR HANDLING:
  - File and shape errors propagate with the entry path in the message.
*/

package data

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/tensor"
)

// Sample is one preprocessed image/label pair, each 1 x C x spatial.
type Sample struct {
	Image *tensor.Tensor
	Label *tensor.Tensor
}

// Batch is what the loader hands to the training loop.
type Batch struct {
	Image *tensor.Tensor
	Label *tensor.Tensor
}

// Release returns the batch buffers to the tensor pool.
func (b *Batch) Release() {
	tensor.Release(b.Image)
	tensor.Release(b.Label)
	b.Image, b.Label = nil, nil
}

// Dataset yields the samples of item i. rng drives any random transform.
type Dataset interface {
	Len() int
	Get(i int, rng *rand.Rand) ([]Sample, error)
}

// Mode selects training (random patches) or validation (full volumes).
type Mode int

const (
	Train Mode = iota
	Validate
)

// VolumeOptions configures preprocessing.
type VolumeOptions struct {
	Mode       Mode
	ImageSize  []int
	PatchSize  []int
	NumSamples int
	IntensityA [2]float32
	IntensityB [2]float32
	CacheRate  float64
}

// DefaultVolumeOptions returns the abdominal CT preprocessing settings.
func DefaultVolumeOptions(mode Mode) VolumeOptions {
	return VolumeOptions{
		Mode:       mode,
		ImageSize:  []int{128, 256, 256},
		PatchSize:  []int{96, 96, 96},
		NumSamples: 2,
		IntensityA: [2]float32{-175, 250},
		IntensityB: [2]float32{0, 1},
		CacheRate:  1,
	}
}

// VolumeDataset reads NIfTI image/label pairs listed in a datalist.
type VolumeDataset struct {
	entries []Entry
	opts    VolumeOptions
	read    func(string) (*tensor.Tensor, error)

	mu     sync.Mutex
	cache  map[int]Sample
	cached int
}

// NewVolumeDataset creates a dataset over entries.
func NewVolumeDataset(entries []Entry, opts VolumeOptions) *VolumeDataset {
	return &VolumeDataset{
		entries: entries,
		opts:    opts,
		read:    ReadNIfTI,
		cache:   make(map[int]Sample),
		cached:  int(float64(len(entries)) * min(max(opts.CacheRate, 0), 1)),
	}
}

// Len returns the number of volumes.
func (d *VolumeDataset) Len() int {
	return len(d.entries)
}

// Get loads and preprocesses volume i.
func (d *VolumeDataset) Get(i int, rng *rand.Rand) ([]Sample, error) {
	vol, err := d.volume(i)
	if err != nil {
		return nil, err
	}
	if d.opts.Mode == Validate {
		return []Sample{{Image: vol.Image.Clone(), Label: vol.Label.Clone()}}, nil
	}
	return RandCropPosNeg(vol.Image, vol.Label, d.opts.PatchSize, max(d.opts.NumSamples, 1), 1, 1, rng)
}

func (d *VolumeDataset) volume(i int) (Sample, error) {
	if i < d.cached {
		d.mu.Lock()
		s, ok := d.cache[i]
		d.mu.Unlock()
		if ok {
			return s, nil
		}
	}

	e := d.entries[i]
	img, err := d.read(e.Image)
	if err != nil {
		return Sample{}, err
	}
	lbl, err := d.read(e.Label)
	if err != nil {
		return Sample{}, err
	}
	s, err := d.preprocess(img, lbl)
	if err != nil {
		return Sample{}, fmt.Errorf("%s: %w", e.Image, err)
	}

	if i < d.cached {
		d.mu.Lock()
		d.cache[i] = s
		d.mu.Unlock()
	}
	return s, nil
}

func (d *VolumeDataset) preprocess(img, lbl *tensor.Tensor) (Sample, error) {
	if !tensor.ShapeEqual(img.Spatial(), lbl.Spatial()) {
		return Sample{}, fmt.Errorf("image %v and label %v differ", img.Shape, lbl.Shape)
	}
	a, b := d.opts.IntensityA, d.opts.IntensityB
	ScaleIntensityRange(img, a[0], a[1], b[0], b[1], true)

	if len(d.opts.ImageSize) > 0 {
		var err error
		if img, err = PadOrCropTo(img, d.opts.ImageSize); err != nil {
			return Sample{}, err
		}
		if lbl, err = PadOrCropTo(lbl, d.opts.ImageSize); err != nil {
			return Sample{}, err
		}
	}
	return Sample{Image: img, Label: lbl}, nil
}
