package tensor

import (
	"math/bits"
	"sync"
)

// Pool recycles float32 buffers in power-of-two buckets so per-batch
// tensors can be released eagerly and reused by the next batch.
type Pool struct {
	mu      sync.Mutex
	buckets map[int]*sync.Pool
	stats   PoolStats
}

// PoolStats counts pool traffic.
type PoolStats struct {
	Gets   int64
	Puts   int64
	Misses int64
}

// DefaultPool backs NewPooled and Release.
var DefaultPool = NewPool()

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{buckets: make(map[int]*sync.Pool)}
}

func bucketSize(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func (p *Pool) bucket(size int) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[size]
	if !ok {
		b = &sync.Pool{}
		p.buckets[size] = b
	}
	return b
}

// Get returns a zeroed buffer of length n.
func (p *Pool) Get(n int) []float32 {
	size := bucketSize(n)
	b := p.bucket(size)
	p.mu.Lock()
	p.stats.Gets++
	p.mu.Unlock()

	if v, ok := b.Get().(*[]float32); ok && cap(*v) >= n {
		buf := (*v)[:n]
		clear(buf)
		return buf
	}
	p.mu.Lock()
	p.stats.Misses++
	p.mu.Unlock()
	return make([]float32, n, size)
}

// Put hands a buffer back. Buffers whose capacity is not a bucket size are dropped.
func (p *Pool) Put(buf []float32) {
	c := cap(buf)
	if c == 0 || bucketSize(c) != c {
		return
	}
	p.mu.Lock()
	p.stats.Puts++
	p.mu.Unlock()
	buf = buf[:c]
	p.bucket(c).Put(&buf)
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// NewPooled allocates a zeroed tensor from DefaultPool.
func NewPooled(shape ...int) *Tensor {
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  DefaultPool.Get(Numel(shape)),
	}
}

// Release returns the tensor's buffer to DefaultPool. The tensor must not be used afterwards.
func Release(t *Tensor) {
	if t == nil {
		return
	}
	DefaultPool.Put(t.Data)
	t.Data = nil
}
