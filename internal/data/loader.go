/*
PURPOSE:
  Batches a Dataset for the training loop. Worker goroutines build batches
  ahead of the consumer into a bounded window; batches are emitted in order.

REQUIREMENTS:
  User-specified:
  - Len() and a fresh Batches() sequence per epoch.

  Implementation-discovered:
  - Random transforms are seeded per (epoch, item) so results do not depend
    on which worker picked up an item.
  - Breaking out of the range loop stops the workers and releases batches
    that were built but never consumed.

ARCHITECTURE INTEGRATION:
  - Called by: internal/train (Runner), internal/engine
  - Uses: internal/tensor (Stack into pooled buffers)

ERROR HANDLING:
  - The first dataset error is yielded and ends the sequence.
*/

package data

import (
	"context"
	"fmt"
	"iter"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/tensor"
)

// LoaderConfig holds configuration for Loader.
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	Workers   int
	Prefetch  int // batches built ahead of the consumer; 0 means 2 x Workers
	Seed      uint64
}

// Loader groups dataset items into batches.
type Loader struct {
	ds    Dataset
	cfg   LoaderConfig
	epoch atomic.Uint64
}

// NewLoader creates a loader over ds.
func NewLoader(ds Dataset, cfg LoaderConfig) *Loader {
	cfg.BatchSize = max(cfg.BatchSize, 1)
	cfg.Workers = max(cfg.Workers, 1)
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 2 * cfg.Workers
	}
	return &Loader{ds: ds, cfg: cfg}
}

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	return (l.ds.Len() + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

type built struct {
	batch *Batch
	err   error
}

// Batches returns the batch sequence of the next epoch. Each call advances
// the epoch used for shuffling and random crops.
func (l *Loader) Batches() iter.Seq2[*Batch, error] {
	epoch := l.epoch.Add(1)
	return func(yield func(*Batch, error) bool) {
		groups := l.groups(epoch)
		if len(groups) == 0 {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		results := make([]chan built, len(groups))
		for i := range results {
			results[i] = make(chan built, 1)
		}
		jobs := make(chan int)
		window := make(chan struct{}, l.cfg.Prefetch)

		var wg sync.WaitGroup
		for range min(l.cfg.Workers, len(groups)) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := range jobs {
					b, err := l.build(groups[j], epoch)
					results[j] <- built{batch: b, err: err}
				}
			}()
		}
		go func() {
			defer close(jobs)
			for j := range groups {
				select {
				case window <- struct{}{}:
				case <-ctx.Done():
					return
				}
				select {
				case jobs <- j:
				case <-ctx.Done():
					return
				}
			}
		}()
		defer func() {
			cancel()
			wg.Wait()
			for _, ch := range results {
				select {
				case r := <-ch:
					if r.batch != nil {
						r.batch.Release()
					}
				default:
				}
			}
		}()

		for j := range groups {
			r := <-results[j]
			<-window
			if r.err != nil {
				yield(nil, r.err)
				return
			}
			if !yield(r.batch, nil) {
				return
			}
		}
	}
}

func (l *Loader) groups(epoch uint64) [][]int {
	order := make([]int, l.ds.Len())
	for i := range order {
		order[i] = i
	}
	if l.cfg.Shuffle {
		rand.New(rand.NewPCG(l.cfg.Seed, epoch)).Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	var out [][]int
	for i := 0; i < len(order); i += l.cfg.BatchSize {
		out = append(out, order[i:min(i+l.cfg.BatchSize, len(order))])
	}
	return out
}

func (l *Loader) build(items []int, epoch uint64) (*Batch, error) {
	var images, labels []*tensor.Tensor
	for _, i := range items {
		rng := rand.New(rand.NewPCG(l.cfg.Seed^epoch, uint64(i)))
		samples, err := l.ds.Get(i, rng)
		if err != nil {
			return nil, fmt.Errorf("dataset item %d: %w", i, err)
		}
		for _, s := range samples {
			images = append(images, s.Image)
			labels = append(labels, s.Label)
		}
	}
	img, err := tensor.Stack(images)
	if err != nil {
		return nil, err
	}
	lbl, err := tensor.Stack(labels)
	if err != nil {
		tensor.Release(img)
		return nil, err
	}
	return &Batch{Image: img, Label: lbl}, nil
}
