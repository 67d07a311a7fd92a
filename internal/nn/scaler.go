package nn

import (
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/tensor"
)

// StepOptimizer is the part of an optimizer the scaler drives.
type StepOptimizer interface {
	Parameters() []*tensor.Parameter
	Step() error
}

// GradScalerConfig controls dynamic loss scaling.
type GradScalerConfig struct {
	Enabled        bool
	InitScale      float64
	GrowthFactor   float64
	BackoffFactor  float64
	GrowthInterval int
}

// DefaultGradScalerConfig mirrors the common mixed-precision defaults.
func DefaultGradScalerConfig() GradScalerConfig {
	return GradScalerConfig{
		Enabled:        true,
		InitScale:      65536,
		GrowthFactor:   2,
		BackoffFactor:  0.5,
		GrowthInterval: 2000,
	}
}

// GradScaler scales the loss gradient before backward, unscales parameter
// gradients before the step, skips steps with non-finite gradients and adapts
// the scale. A disabled scaler passes everything through.
type GradScaler struct {
	cfg       GradScalerConfig
	scale     float64
	goodSteps int
	foundInf  bool
	unscaled  bool
	skipped   int
}

// NewGradScaler creates a scaler.
func NewGradScaler(cfg GradScalerConfig) *GradScaler {
	s := &GradScaler{cfg: cfg, scale: 1}
	if cfg.Enabled {
		s.scale = cfg.InitScale
	}
	return s
}

// Scale returns the current loss scale.
func (s *GradScaler) Scale() float64 {
	return s.scale
}

// Skipped returns how many optimizer steps were skipped for non-finite gradients.
func (s *GradScaler) Skipped() int {
	return s.skipped
}

// ScaleGrad multiplies the loss gradient by the current scale in place.
func (s *GradScaler) ScaleGrad(grad *tensor.Tensor) {
	if !s.cfg.Enabled {
		return
	}
	grad.Scale(float32(s.scale))
}

// Unscale divides parameter gradients by the scale and records non-finite values.
func (s *GradScaler) Unscale(opt StepOptimizer) error {
	if !s.cfg.Enabled || s.unscaled {
		return nil
	}
	inv := float32(1 / s.scale)
	for _, p := range opt.Parameters() {
		p.Grad.Scale(inv)
		if p.Grad.HasNonFinite() {
			s.foundInf = true
		}
	}
	s.unscaled = true
	return nil
}

// Step runs the optimizer unless the gradients were non-finite.
func (s *GradScaler) Step(opt StepOptimizer) error {
	if !s.cfg.Enabled {
		return opt.Step()
	}
	if err := s.Unscale(opt); err != nil {
		return err
	}
	if s.foundInf {
		s.skipped++
		return nil
	}
	return opt.Step()
}

// Update adapts the scale for the next iteration.
func (s *GradScaler) Update() {
	if !s.cfg.Enabled {
		return
	}
	if s.foundInf {
		s.scale *= s.cfg.BackoffFactor
		s.goodSteps = 0
	} else {
		s.goodSteps++
		if s.goodSteps >= s.cfg.GrowthInterval {
			s.scale *= s.cfg.GrowthFactor
			s.goodSteps = 0
		}
	}
	s.foundInf = false
	s.unscaled = false
}
