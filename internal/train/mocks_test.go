package train

import (
	"iter"
	"sync"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/data"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/device"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/infer"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/model"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/nn"
	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/tensor"
)

// callLog records the order of collaborator calls across mocks.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.mu.Unlock()
}

// MockLoader yields clones of fixed batches on every call to Batches.
type MockLoader struct {
	Images []*tensor.Tensor
	Labels []*tensor.Tensor
	Err    error
	// FailAfter is the number of batches yielded before Err.
	FailAfter int
	CallCount int
}

func (m *MockLoader) Len() int { return len(m.Images) }

func (m *MockLoader) Batches() iter.Seq2[*data.Batch, error] {
	m.CallCount++
	return func(yield func(*data.Batch, error) bool) {
		for i := 0; ; i++ {
			if m.Err != nil && i == m.FailAfter {
				yield(nil, m.Err)
				return
			}
			if i >= len(m.Images) {
				return
			}
			if !yield(&data.Batch{Image: m.Images[i].Clone(), Label: m.Labels[i].Clone()}, nil) {
				return
			}
		}
	}
}

// MockModel returns zero logits with Classes channels unless ForwardFunc is set.
type MockModel struct {
	ForwardFunc  func(x *tensor.Tensor) (*tensor.Tensor, error)
	BackwardFunc func(grad *tensor.Tensor) error
	Classes      int
	Log          *callLog

	mu            sync.Mutex
	ForwardCount  int
	BackwardCount int
	Training      bool
}

func (m *MockModel) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	m.mu.Lock()
	m.ForwardCount++
	m.mu.Unlock()
	m.Log.add("forward")
	if m.ForwardFunc != nil {
		return m.ForwardFunc(x)
	}
	return tensor.New(append([]int{x.Batch(), max(m.Classes, 1)}, x.Spatial()...)...), nil
}

func (m *MockModel) Backward(grad *tensor.Tensor) error {
	m.BackwardCount++
	m.Log.add("backward")
	if m.BackwardFunc != nil {
		return m.BackwardFunc(grad)
	}
	return nil
}

func (m *MockModel) Parameters() []*tensor.Parameter { return nil }
func (m *MockModel) Train()                          { m.Training = true }
func (m *MockModel) Eval()                           { m.Training = false }

// MockLoss returns the next value of Values (cycling) with a zero gradient.
type MockLoss struct {
	ForwardFunc func(logits, labels *tensor.Tensor) (float64, *tensor.Tensor, error)
	Values      []float64
	Log         *callLog
	CallCount   int
}

func (m *MockLoss) Forward(logits, labels *tensor.Tensor) (float64, *tensor.Tensor, error) {
	m.Log.add("loss")
	i := m.CallCount
	m.CallCount++
	if m.ForwardFunc != nil {
		return m.ForwardFunc(logits, labels)
	}
	v := 0.0
	if len(m.Values) > 0 {
		v = m.Values[i%len(m.Values)]
	}
	return v, tensor.New(logits.Shape...), nil
}

type MockOptimizer struct {
	StepErr   error
	Log       *callLog
	ZeroCount int
	StepCount int
}

func (m *MockOptimizer) ZeroGrad() {
	m.ZeroCount++
	m.Log.add("zero")
}

func (m *MockOptimizer) Step() error {
	m.StepCount++
	m.Log.add("step")
	return m.StepErr
}

func (m *MockOptimizer) Parameters() []*tensor.Parameter { return nil }

// MockScaler forwards Step to the optimizer and records the call order.
type MockScaler struct {
	Log         *callLog
	UpdateCount int
}

func (m *MockScaler) ScaleGrad(*tensor.Tensor) { m.Log.add("scale") }

func (m *MockScaler) Unscale(nn.StepOptimizer) error {
	m.Log.add("unscale")
	return nil
}

func (m *MockScaler) Step(opt nn.StepOptimizer) error { return opt.Step() }

func (m *MockScaler) Update() {
	m.UpdateCount++
	m.Log.add("update")
}

// MockInferer calls the predictor on the whole input unless InferFunc is set.
type MockInferer struct {
	InferFunc func(images *tensor.Tensor) (*tensor.Tensor, error)
	CallCount int
	LastROI   []int
	LastDev   device.Device
}

func (m *MockInferer) Infer(images *tensor.Tensor, roi []int, swBatch int, p infer.Predictor, dev device.Device) (*tensor.Tensor, error) {
	m.CallCount++
	m.LastROI, m.LastDev = roi, dev
	if m.InferFunc != nil {
		return m.InferFunc(images)
	}
	return p.Forward(images)
}

// MockEpochRunner returns scripted results per epoch (1-based call counts).
type MockEpochRunner struct {
	TrainFunc    func(call int) (float64, error)
	ValidateFunc func(call int) (float64, []float64, error)
	TrainCalls   int
	ValCalls     int
}

func (m *MockEpochRunner) TrainEpoch(Loader) (float64, error) {
	m.TrainCalls++
	if m.TrainFunc != nil {
		return m.TrainFunc(m.TrainCalls)
	}
	return 1, nil
}

func (m *MockEpochRunner) ValidateEpoch(Loader) (float64, []float64, error) {
	m.ValCalls++
	if m.ValidateFunc != nil {
		return m.ValidateFunc(m.ValCalls)
	}
	return 1, []float64{0, 0}, nil
}

type MockSaver struct {
	SaveBestFunc  func() (string, error)
	BestCount     int
	FinalEpochs   []int
	SaveFinalFunc func(epochs int) (string, error)
}

func (m *MockSaver) SaveBest() (string, error) {
	m.BestCount++
	if m.SaveBestFunc != nil {
		return m.SaveBestFunc()
	}
	return "best.ckpt", nil
}

func (m *MockSaver) SaveFinal(epochs int) (string, error) {
	m.FinalEpochs = append(m.FinalEpochs, epochs)
	if m.SaveFinalFunc != nil {
		return m.SaveFinalFunc(epochs)
	}
	return "final.ckpt", nil
}

type MockWriter struct {
	AddScalarFunc func(tag string, value float64, step int) error
	Scalars       []model.Scalar
	CloseCount    int
}

func (m *MockWriter) AddScalar(tag string, value float64, step int) error {
	m.Scalars = append(m.Scalars, model.Scalar{Tag: tag, Value: value, Step: step})
	if m.AddScalarFunc != nil {
		return m.AddScalarFunc(tag, value, step)
	}
	return nil
}

func (m *MockWriter) Close() error {
	m.CloseCount++
	return nil
}

type MockObserver struct {
	Epochs []model.EpochMetrics
}

func (m *MockObserver) EpochDone(e model.EpochMetrics) {
	m.Epochs = append(m.Epochs, e)
}
