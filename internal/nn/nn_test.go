package nn

import (
	"math"
	"testing"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/tensor"
)

func testVolume() (*tensor.Tensor, *tensor.Tensor) {
	x := tensor.New(1, 1, 3, 3, 3)
	y := tensor.New(1, 1, 3, 3, 3)
	for i := range x.Data {
		x.Data[i] = float32(i%5) / 4
		if i%7 == 0 {
			y.Data[i] = 1
		}
		if i%11 == 0 {
			y.Data[i] = 2
		}
	}
	return x, y
}

func TestDiceCELossGradientMatchesFiniteDifference(t *testing.T) {
	logits := tensor.New(1, 3, 2, 2)
	for i := range logits.Data {
		logits.Data[i] = float32(math.Sin(float64(i)))
	}
	labels, _ := tensor.FromData([]float32{0, 1, 2, 1}, 1, 1, 2, 2)
	loss := NewDiceCELoss()

	_, grad, err := loss.Forward(logits, labels)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	const eps = 1e-3
	for i := range logits.Data {
		orig := logits.Data[i]
		logits.Data[i] = orig + eps
		up, _, _ := loss.Forward(logits, labels)
		logits.Data[i] = orig - eps
		down, _, _ := loss.Forward(logits, labels)
		logits.Data[i] = orig

		numeric := (up - down) / (2 * eps)
		if math.Abs(numeric-float64(grad.Data[i])) > 2e-3 {
			t.Errorf("grad[%d] = %v, numeric %v", i, grad.Data[i], numeric)
		}
	}
}

func TestDiceCELossRejectsBadLabels(t *testing.T) {
	loss := NewDiceCELoss()
	logits := tensor.New(1, 2, 4)
	if _, _, err := loss.Forward(logits, tensor.New(1, 1, 3)); err == nil {
		t.Error("expected shape error")
	}
	bad, _ := tensor.FromData([]float32{0, 5, 0, 0}, 1, 1, 4)
	if _, _, err := loss.Forward(logits, bad); err == nil {
		t.Error("expected label range error")
	}
}

func TestVoxelNetBackwardMatchesFiniteDifference(t *testing.T) {
	net, err := NewVoxelNet(VoxelNetConfig{InChannels: 1, Classes: 3, Hidden: 4, Seed: 7})
	if err != nil {
		t.Fatal(err)
	}
	x, y := testVolume()
	loss := NewDiceCELoss()

	logits, err := net.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	_, g, err := loss.Forward(logits, y)
	if err != nil {
		t.Fatal(err)
	}
	if err := net.Backward(g); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	eval := func() float64 {
		out, _ := net.Forward(x)
		v, _, _ := loss.Forward(out, y)
		return v
	}

	const eps = 1e-2
	for _, p := range net.Parameters() {
		for _, i := range []int{0, len(p.Value.Data) - 1} {
			orig := p.Value.Data[i]
			p.Value.Data[i] = orig + eps
			up := eval()
			p.Value.Data[i] = orig - eps
			down := eval()
			p.Value.Data[i] = orig

			numeric := (up - down) / (2 * eps)
			analytic := float64(p.Grad.Data[i])
			if math.Abs(numeric-analytic) > 1e-2+0.05*math.Abs(numeric) {
				t.Errorf("%s[%d]: analytic %v, numeric %v", p.Name, i, analytic, numeric)
			}
		}
	}
}

func TestVoxelNetEvalDoesNotCache(t *testing.T) {
	net, _ := NewVoxelNet(VoxelNetConfig{InChannels: 1, Classes: 2, Hidden: 2})
	net.Eval()
	x, _ := testVolume()
	out, err := net.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	if !tensor.ShapeEqual(out.Shape, []int{1, 2, 3, 3, 3}) {
		t.Fatalf("shape = %v", out.Shape)
	}
	if err := net.Backward(out); err == nil {
		t.Error("expected Backward to fail in eval mode")
	}
	if _, err := net.Forward(tensor.New(1, 2, 3, 3)); err == nil {
		t.Error("expected channel mismatch error")
	}
}

func TestTrainingReducesLoss(t *testing.T) {
	net, _ := NewVoxelNet(VoxelNetConfig{InChannels: 1, Classes: 3, Hidden: 8, Seed: 1})
	cfg := DefaultAdamWConfig()
	cfg.LearningRate = 1e-2
	opt := NewAdamW(net.Parameters(), cfg)
	loss := NewDiceCELoss()
	x, y := testVolume()

	var first, last float64
	for i := 0; i < 60; i++ {
		opt.ZeroGrad()
		out, _ := net.Forward(x)
		v, g, _ := loss.Forward(out, y)
		if i == 0 {
			first = v
		}
		last = v
		if err := net.Backward(g); err != nil {
			t.Fatal(err)
		}
		if err := opt.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if last >= first {
		t.Errorf("loss did not decrease: first %v, last %v", first, last)
	}
	if opt.Steps() != 60 {
		t.Errorf("Steps = %d", opt.Steps())
	}
}

type countingOptimizer struct {
	params []*tensor.Parameter
	steps  int
}

func (o *countingOptimizer) Parameters() []*tensor.Parameter { return o.params }
func (o *countingOptimizer) Step() error {
	o.steps++
	return nil
}

func TestGradScalerSkipsNonFiniteAndBacksOff(t *testing.T) {
	p := tensor.NewParameter("w", 2)
	opt := &countingOptimizer{params: []*tensor.Parameter{p}}
	cfg := DefaultGradScalerConfig()
	cfg.GrowthInterval = 2
	s := NewGradScaler(cfg)

	p.Grad.Data[0] = float32(s.Scale()) * 0.5
	if err := s.Step(opt); err != nil {
		t.Fatal(err)
	}
	if p.Grad.Data[0] != 0.5 {
		t.Errorf("unscaled grad = %v, want 0.5", p.Grad.Data[0])
	}
	s.Update()
	if opt.steps != 1 {
		t.Fatalf("steps = %d, want 1", opt.steps)
	}

	p.Grad.Data[0] = float32(math.Inf(1))
	_ = s.Step(opt)
	s.Update()
	if opt.steps != 1 || s.Skipped() != 1 {
		t.Errorf("non-finite step not skipped: steps %d skipped %d", opt.steps, s.Skipped())
	}
	if s.Scale() != cfg.InitScale*cfg.BackoffFactor {
		t.Errorf("scale = %v after backoff", s.Scale())
	}

	for i := 0; i < 2; i++ {
		p.ZeroGrad()
		_ = s.Step(opt)
		s.Update()
	}
	if s.Scale() != cfg.InitScale*cfg.BackoffFactor*cfg.GrowthFactor {
		t.Errorf("scale = %v after growth interval", s.Scale())
	}
}

func TestGradScalerDisabledPassesThrough(t *testing.T) {
	p := tensor.NewParameter("w", 1)
	opt := &countingOptimizer{params: []*tensor.Parameter{p}}
	s := NewGradScaler(GradScalerConfig{})

	g := tensor.New(1)
	g.Data[0] = 3
	s.ScaleGrad(g)
	if g.Data[0] != 3 || s.Scale() != 1 {
		t.Fatalf("disabled scaler changed gradient: %v scale %v", g.Data[0], s.Scale())
	}
	p.Grad.Data[0] = float32(math.NaN())
	_ = s.Step(opt)
	if opt.steps != 1 {
		t.Error("disabled scaler must always step")
	}
}
