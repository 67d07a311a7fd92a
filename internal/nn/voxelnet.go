/*
PURPOSE:
  A small CPU segmentation network used as the default model collaborator.
  Each voxel is classified from local 3^d neighbourhood statistics through a
  single hidden ReLU layer.

REQUIREMENTS:
  User-specified:
  - forward(batch) -> logits, parameters() -> iterable.

  Implementation-discovered:
  - Must accept any spatial size so windowed inference can feed it patches
    or whole volumes.
  - Eval-mode Forward must be safe for concurrent callers (the windowed
    inferer may run windows in parallel).

ARCHITECTURE INTEGRATION:
  - Constructed by: internal/engine
  - Driven by: internal/train (Runner), internal/infer (SlidingWindow)

ERROR HANDLING:
  - Shape mismatches and Backward-before-Forward return errors.

RELATED FILES:
  - internal/nn/loss.go
  - internal/nn/adamw.go
*/

package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/tensor"
)

// Architecture is the name recorded in checkpoint files.
const Architecture = "VoxelNet"

// featuresPerChannel: intensity, neighbourhood mean, neighbourhood variance.
const featuresPerChannel = 3

// VoxelNetConfig sizes the network.
type VoxelNetConfig struct {
	InChannels int
	Classes    int
	Hidden     int
	Seed       uint64
}

// VoxelNet is a per-voxel two-layer classifier over neighbourhood features.
type VoxelNet struct {
	cfg      VoxelNetConfig
	w1, b1   *tensor.Parameter
	w2, b2   *tensor.Parameter
	training bool

	// cached by Forward in training mode
	feat *tensor.Tensor
	h    *tensor.Tensor
}

// NewVoxelNet creates a network with He-initialised weights.
func NewVoxelNet(cfg VoxelNetConfig) (*VoxelNet, error) {
	if cfg.InChannels < 1 || cfg.Classes < 2 || cfg.Hidden < 1 {
		return nil, fmt.Errorf("invalid VoxelNet config %+v", cfg)
	}
	f := cfg.InChannels * featuresPerChannel
	net := &VoxelNet{
		cfg:      cfg,
		w1:       tensor.NewParameter("hidden.weight", cfg.Hidden, f),
		b1:       tensor.NewParameter("hidden.bias", cfg.Hidden),
		w2:       tensor.NewParameter("head.weight", cfg.Classes, cfg.Hidden),
		b2:       tensor.NewParameter("head.bias", cfg.Classes),
		training: true,
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, 0x5eed))
	heInit(net.w1.Value, f, rng)
	heInit(net.w2.Value, cfg.Hidden, rng)
	return net, nil
}

func heInit(t *tensor.Tensor, fanIn int, rng *rand.Rand) {
	std := math.Sqrt(2 / float64(fanIn))
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64() * std)
	}
}

// Parameters returns the trainable parameters in a stable order.
func (m *VoxelNet) Parameters() []*tensor.Parameter {
	return []*tensor.Parameter{m.w1, m.b1, m.w2, m.b2}
}

// Train switches to training mode (activations cached for Backward).
func (m *VoxelNet) Train() { m.training = true }

// Eval switches to inference mode.
func (m *VoxelNet) Eval() {
	m.training = false
	m.feat, m.h = nil, nil
}

// Forward maps N x InChannels x spatial to N x Classes x spatial logits.
func (m *VoxelNet) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 3 || x.Channels() != m.cfg.InChannels {
		return nil, fmt.Errorf("voxelnet: expected N x %d x spatial input, got %v", m.cfg.InChannels, x.Shape)
	}
	n, s := x.Batch(), x.SpatialSize()
	spatial := x.Spatial()
	nf, nh, nk := m.cfg.InChannels*featuresPerChannel, m.cfg.Hidden, m.cfg.Classes

	feat := tensor.New(append([]int{n, nf}, spatial...)...)
	for b := 0; b < n; b++ {
		for c := 0; c < m.cfg.InChannels; c++ {
			vol := x.Data[(b*m.cfg.InChannels+c)*s : (b*m.cfg.InChannels+c+1)*s]
			sq := make([]float32, s)
			for i, v := range vol {
				sq[i] = v * v
			}
			mean := boxMean(vol, spatial)
			meanSq := boxMean(sq, spatial)
			base := (b*nf + c*featuresPerChannel) * s
			copy(feat.Data[base:base+s], vol)
			copy(feat.Data[base+s:base+2*s], mean)
			for i := range mean {
				feat.Data[base+2*s+i] = meanSq[i] - mean[i]*mean[i]
			}
		}
	}

	w1, b1, w2, b2 := m.w1.Value.Data, m.b1.Value.Data, m.w2.Value.Data, m.b2.Value.Data
	h := tensor.New(append([]int{n, nh}, spatial...)...)
	logits := tensor.New(append([]int{n, nk}, spatial...)...)
	for b := 0; b < n; b++ {
		fb := feat.Data[b*nf*s : (b+1)*nf*s]
		hb := h.Data[b*nh*s : (b+1)*nh*s]
		lb := logits.Data[b*nk*s : (b+1)*nk*s]
		for j := 0; j < nh; j++ {
			row := hb[j*s : (j+1)*s]
			for v := range row {
				row[v] = b1[j]
			}
			for f := 0; f < nf; f++ {
				w := w1[j*nf+f]
				col := fb[f*s : (f+1)*s]
				for v := range row {
					row[v] += w * col[v]
				}
			}
			for v := range row {
				if row[v] < 0 {
					row[v] = 0
				}
			}
		}
		for k := 0; k < nk; k++ {
			row := lb[k*s : (k+1)*s]
			for v := range row {
				row[v] = b2[k]
			}
			for j := 0; j < nh; j++ {
				w := w2[k*nh+j]
				col := hb[j*s : (j+1)*s]
				for v := range row {
					row[v] += w * col[v]
				}
			}
		}
	}

	if m.training {
		m.feat, m.h = feat, h
	}
	return logits, nil
}

// Backward accumulates parameter gradients from the gradient of the last
// training-mode Forward's logits.
func (m *VoxelNet) Backward(grad *tensor.Tensor) error {
	if m.feat == nil {
		return errors.New("voxelnet: Backward called without a training-mode Forward")
	}
	n, s := m.feat.Batch(), m.feat.SpatialSize()
	nf, nh, nk := m.cfg.InChannels*featuresPerChannel, m.cfg.Hidden, m.cfg.Classes
	if !tensor.ShapeEqual(grad.Shape, append([]int{n, nk}, m.feat.Spatial()...)) {
		return fmt.Errorf("voxelnet: gradient shape %v does not match logits", grad.Shape)
	}

	w2 := m.w2.Value.Data
	gw1, gb1, gw2, gb2 := m.w1.Grad.Data, m.b1.Grad.Data, m.w2.Grad.Data, m.b2.Grad.Data
	dh := make([]float32, nh*s)
	for b := 0; b < n; b++ {
		fb := m.feat.Data[b*nf*s : (b+1)*nf*s]
		hb := m.h.Data[b*nh*s : (b+1)*nh*s]
		gb := grad.Data[b*nk*s : (b+1)*nk*s]

		clear(dh)
		for k := 0; k < nk; k++ {
			g := gb[k*s : (k+1)*s]
			var sum float64
			for _, v := range g {
				sum += float64(v)
			}
			gb2[k] += float32(sum)
			for j := 0; j < nh; j++ {
				hr := hb[j*s : (j+1)*s]
				var acc float64
				for v := range g {
					acc += float64(g[v] * hr[v])
				}
				gw2[k*nh+j] += float32(acc)
				w := w2[k*nh+j]
				d := dh[j*s : (j+1)*s]
				for v := range g {
					d[v] += w * g[v]
				}
			}
		}
		for j := 0; j < nh; j++ {
			hr := hb[j*s : (j+1)*s]
			d := dh[j*s : (j+1)*s]
			var sum float64
			for v := range d {
				if hr[v] <= 0 {
					d[v] = 0
				}
				sum += float64(d[v])
			}
			gb1[j] += float32(sum)
			for f := 0; f < nf; f++ {
				col := fb[f*s : (f+1)*s]
				var acc float64
				for v := range d {
					acc += float64(d[v] * col[v])
				}
				gw1[j*nf+f] += float32(acc)
			}
		}
	}
	return nil
}

// boxMean averages each voxel over its 3^d neighbourhood, clamped at the borders.
// The clamped box is a product of per-axis ranges, so it is computed one axis at a time.
func boxMean(vol []float32, dims []int) []float32 {
	cur := append([]float32(nil), vol...)
	next := make([]float32, len(vol))
	stride := len(vol)
	for _, d := range dims {
		stride /= d
		outer := len(vol) / (stride * d)
		for o := 0; o < outer; o++ {
			for i := 0; i < d; i++ {
				lo, hi := max(i-1, 0), min(i+1, d-1)
				cnt := float32(hi - lo + 1)
				for in := 0; in < stride; in++ {
					var sum float32
					for j := lo; j <= hi; j++ {
						sum += cur[(o*d+j)*stride+in]
					}
					next[(o*d+i)*stride+in] = sum / cnt
				}
			}
		}
		cur, next = next, cur
	}
	return cur
}
