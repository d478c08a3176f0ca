package fit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// DEOptions configures the differential evolution engine.
type DEOptions struct {
	// PopSize is the population size. Zero means 10x the dimension,
	// with a floor of 10.
	PopSize int
	// MaxGenerations stops the run after this many generations.
	MaxGenerations int
	// F is the differential weight, in (0, 2].
	F float64
	// CR is the crossover probability, in [0, 1].
	CR float64
	// FTol stops the run when the population value spread drops below
	// this relative tolerance.
	FTol float64
	// Seed sets the random stream. Zero draws a seed from the clock.
	Seed int64
	// Model labels checkpoints; resume rejects a checkpoint written
	// for a different model name.
	Model string
	// CheckpointPath, when set, receives the population state every
	// CheckpointEvery generations and on interrupt.
	CheckpointPath  string
	CheckpointEvery int
	// Resume seeds the population from a saved checkpoint.
	Resume *Checkpoint
	// Progress, when set, is called after each generation.
	Progress ProgressFunc
}

// DE is a differential evolution optimizer using the rand/1/bin
// strategy. Trial points outside the hard bounds are reflected back
// into range.
type DE struct {
	opts DEOptions
	ev   Evaluator
}

// NewDE builds a DE engine. A nil evaluator means serial evaluation on
// the calling goroutine.
func NewDE(opts DEOptions, ev Evaluator) *DE {
	if opts.MaxGenerations <= 0 {
		opts.MaxGenerations = 1000
	}
	if opts.F <= 0 {
		opts.F = 0.8
	}
	if opts.CR <= 0 {
		opts.CR = 0.9
	}
	if opts.FTol <= 0 {
		opts.FTol = 1e-8
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 10
	}
	return &DE{opts: opts, ev: ev}
}

// Optimize runs the engine until convergence, the generation limit, or
// cancellation. On cancellation the best point found so far is
// returned with Converged false, and the checkpoint is saved if a path
// is configured.
func (de *DE) Optimize(ctx context.Context, obj Objective) (*Result, error) {
	dim := obj.Dim()
	np := de.opts.PopSize
	if np <= 0 {
		np = 10 * dim
		if np < 10 {
			np = 10
		}
	}
	if np < 4 {
		return nil, fmt.Errorf("population size %d too small, need at least 4", np)
	}
	seed := de.opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	lo, hi := obj.Bounds()
	ev := de.ev
	if ev == nil {
		ev = &SerialEvaluator{Obj: obj}
	}

	pop := make([][]float64, np)
	values := make([]float64, np)
	startGen := 0
	evals := 0

	if cp := de.opts.Resume; cp != nil {
		if err := cp.Compatible(de.opts.Model, obj.Names()); err != nil {
			return nil, fmt.Errorf("resuming: %w", err)
		}
		if len(cp.Population) != np {
			np = len(cp.Population)
			pop = make([][]float64, np)
			values = make([]float64, np)
		}
		for i := range cp.Population {
			pop[i] = append([]float64(nil), cp.Population[i]...)
			values[i] = cp.Values[i]
		}
		startGen = cp.Generation
	} else {
		pop[0] = clip(obj.Start(), lo, hi)
		for i := 1; i < np; i++ {
			pop[i] = obj.RandomPoint(rng)
		}
		var err error
		values, err = ev.Eval(ctx, pop)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return &Result{
					X: pop[0], Value: math.Inf(1),
					Message: "interrupted: " + err.Error(),
				}, nil
			}
			return nil, fmt.Errorf("evaluating initial population: %w", err)
		}
		evals += np
	}

	bestIdx := argmin(values)
	best := append([]float64(nil), pop[bestIdx]...)
	bestValue := values[bestIdx]

	save := func(gen int) error {
		if de.opts.CheckpointPath == "" {
			return nil
		}
		return SaveCheckpoint(de.opts.CheckpointPath, &Checkpoint{
			Engine:     "de",
			Model:      de.opts.Model,
			Names:      obj.Names(),
			Generation: gen,
			Best:       best,
			BestValue:  bestValue,
			Population: pop,
			Values:     values,
			Seed:       seed,
		})
	}

	gen := startGen
	for ; gen < de.opts.MaxGenerations; gen++ {
		trials := make([][]float64, np)
		for i := 0; i < np; i++ {
			trials[i] = de.trial(rng, pop, i, lo, hi)
		}
		trialValues, err := ev.Eval(ctx, trials)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if serr := save(gen); serr != nil {
					return nil, fmt.Errorf("saving checkpoint on interrupt: %w", serr)
				}
				return &Result{
					X: best, Value: bestValue,
					Iterations: gen, Evaluations: evals,
					Message: "interrupted: " + err.Error(),
				}, nil
			}
			return nil, fmt.Errorf("evaluating generation %d: %w", gen, err)
		}
		evals += np
		for i := 0; i < np; i++ {
			if trialValues[i] <= values[i] {
				pop[i] = trials[i]
				values[i] = trialValues[i]
				if trialValues[i] < bestValue {
					bestValue = trialValues[i]
					best = append(best[:0], trials[i]...)
				}
			}
		}

		if de.opts.Progress != nil {
			de.opts.Progress(Progress{
				Iteration: gen + 1, Best: bestValue, Mean: mean(values),
				X: best, Evaluations: evals,
			})
		}
		if (gen+1)%de.opts.CheckpointEvery == 0 {
			if err := save(gen + 1); err != nil {
				return nil, fmt.Errorf("saving checkpoint at generation %d: %w", gen+1, err)
			}
		}
		if converged(values, de.opts.FTol) {
			gen++
			break
		}
	}

	if err := save(gen); err != nil {
		return nil, fmt.Errorf("saving final checkpoint: %w", err)
	}
	res := &Result{
		X: best, Value: bestValue,
		Iterations: gen, Evaluations: evals,
		Converged: converged(values, de.opts.FTol),
	}
	if res.Converged {
		res.Message = "population value spread below tolerance"
	} else {
		res.Message = "generation limit reached"
	}
	return res, nil
}

// trial builds a rand/1/bin mutant for member i.
func (de *DE) trial(rng *rand.Rand, pop [][]float64, i int, lo, hi []float64) []float64 {
	np := len(pop)
	dim := len(pop[i])
	var a, b, c int
	for {
		a = rng.Intn(np)
		if a != i {
			break
		}
	}
	for {
		b = rng.Intn(np)
		if b != i && b != a {
			break
		}
	}
	for {
		c = rng.Intn(np)
		if c != i && c != a && c != b {
			break
		}
	}
	trial := append([]float64(nil), pop[i]...)
	forced := rng.Intn(dim)
	for j := 0; j < dim; j++ {
		if j == forced || rng.Float64() < de.opts.CR {
			trial[j] = reflect(pop[a][j]+de.opts.F*(pop[b][j]-pop[c][j]), lo[j], hi[j])
		}
	}
	return trial
}

// reflect folds a value back inside [lo, hi]. Infinite bounds pass the
// value through on that side.
func reflect(v, lo, hi float64) float64 {
	for i := 0; i < 100; i++ {
		switch {
		case v < lo && !math.IsInf(lo, -1):
			v = 2*lo - v
		case v > hi && !math.IsInf(hi, 1):
			v = 2*hi - v
		default:
			return v
		}
	}
	// Pathological oscillation; a midpoint is always in range.
	return lo + (hi-lo)/2
}

func clip(x, lo, hi []float64) []float64 {
	out := append([]float64(nil), x...)
	for i := range out {
		if out[i] < lo[i] {
			out[i] = lo[i]
		}
		if out[i] > hi[i] {
			out[i] = hi[i]
		}
	}
	return out
}

func argmin(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] < v[best] {
			best = i
		}
	}
	return best
}

func mean(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func converged(values []float64, ftol float64) bool {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if math.IsInf(hi, 1) {
		return false
	}
	scale := math.Max(math.Abs(lo), math.Abs(hi))
	if scale == 0 {
		return true
	}
	return (hi-lo)/scale < ftol
}
