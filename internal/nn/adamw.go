package nn

import (
	"math"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/tensor"
)

// AdamWConfig holds optimizer hyperparameters.
type AdamWConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64 // decoupled, applied to the weights directly
}

// DefaultAdamWConfig matches the usual PyTorch defaults with weight decay 1e-5.
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LearningRate: 1e-4,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  1e-5,
	}
}

// AdamW implements Adam with decoupled weight decay.
type AdamW struct {
	cfg    AdamWConfig
	params []*tensor.Parameter
	m, v   [][]float64
	step   int
}

// NewAdamW creates an optimizer over params.
func NewAdamW(params []*tensor.Parameter, cfg AdamWConfig) *AdamW {
	opt := &AdamW{cfg: cfg, params: params}
	for _, p := range params {
		opt.m = append(opt.m, make([]float64, p.Value.Numel()))
		opt.v = append(opt.v, make([]float64, p.Value.Numel()))
	}
	return opt
}

// Parameters returns the optimised parameters.
func (o *AdamW) Parameters() []*tensor.Parameter {
	return o.params
}

// ZeroGrad clears every gradient.
func (o *AdamW) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

// LearningRate returns the current learning rate.
func (o *AdamW) LearningRate() float64 {
	return o.cfg.LearningRate
}

// SetLearningRate changes the learning rate for subsequent steps.
func (o *AdamW) SetLearningRate(lr float64) {
	o.cfg.LearningRate = lr
}

// Steps returns the number of applied updates.
func (o *AdamW) Steps() int {
	return o.step
}

// Step applies one update from the current gradients.
func (o *AdamW) Step() error {
	o.step++
	c := o.cfg
	bc1 := 1 - math.Pow(c.Beta1, float64(o.step))
	bc2 := 1 - math.Pow(c.Beta2, float64(o.step))
	for i, p := range o.params {
		m, v := o.m[i], o.v[i]
		for j, g32 := range p.Grad.Data {
			g := float64(g32)
			w := float64(p.Value.Data[j])
			w -= c.LearningRate * c.WeightDecay * w
			m[j] = c.Beta1*m[j] + (1-c.Beta1)*g
			v[j] = c.Beta2*v[j] + (1-c.Beta2)*g*g
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			w -= c.LearningRate * mHat / (math.Sqrt(vHat) + c.Epsilon)
			p.Value.Data[j] = float32(w)
		}
	}
	return nil
}
