// Package fitwork distributes objective evaluations across local
// goroutines and remote worker processes. Population engines hand it a
// generation of points at a time; it hands back the values in order.
package fitwork

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/igresh/refl1d/internal/fit"
)

// LocalPool evaluates points on a fixed set of goroutines, each owning
// an independent clone of the objective so evaluations never share
// model state.
type LocalPool struct {
	clones []fit.Objective
}

// NewLocalPool builds a pool with the given number of workers. Zero
// means one per CPU.
func NewLocalPool(obj fit.Objective, workers int) *LocalPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	clones := make([]fit.Objective, workers)
	for i := range clones {
		clones[i] = obj.Clone()
	}
	return &LocalPool{clones: clones}
}

// Workers returns the pool size.
func (p *LocalPool) Workers() int { return len(p.clones) }

// Eval evaluates every point and returns the values in input order.
// A cancelled context abandons the remaining points and returns the
// context error.
func (p *LocalPool) Eval(ctx context.Context, xs [][]float64) ([]float64, error) {
	out := make([]float64, len(xs))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for _, clone := range p.clones {
		wg.Add(1)
		go func(obj fit.Objective) {
			defer wg.Done()
			for i := range jobs {
				out[i] = obj.Eval(xs[i])
			}
		}(clone)
	}

	var err error
feed:
	for i := range xs {
		select {
		case jobs <- i:
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if err != nil {
		return nil, fmt.Errorf("local evaluation: %w", err)
	}
	return out, nil
}

func (p *LocalPool) Close() error { return nil }
