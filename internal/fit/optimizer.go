package fit

import "context"

// Result is the outcome of an optimization run.
type Result struct {
	X           []float64 `json:"x"`
	Value       float64   `json:"value"`
	Iterations  int       `json:"iterations"`
	Evaluations int       `json:"evaluations"`
	Converged   bool      `json:"converged"`
	Message     string    `json:"message"`
}

// Progress reports the state of a run after each iteration.
type Progress struct {
	Iteration   int
	Best        float64
	Mean        float64
	X           []float64
	Evaluations int
}

// ProgressFunc receives progress updates during a run. It is called
// from the optimizer goroutine; implementations must be quick.
type ProgressFunc func(Progress)

// Optimizer minimizes an objective. A cancelled context stops the run
// early; the best point found so far is still returned, with
// Converged false.
type Optimizer interface {
	Optimize(ctx context.Context, obj Objective) (*Result, error)
}

// Evaluator computes the objective over a batch of points. The batch
// form lets population engines dispatch a generation at once to a
// worker pool.
type Evaluator interface {
	Eval(ctx context.Context, xs [][]float64) ([]float64, error)
	Close() error
}

// SerialEvaluator evaluates points one at a time on the calling
// goroutine.
type SerialEvaluator struct {
	Obj Objective
}

func (s *SerialEvaluator) Eval(ctx context.Context, xs [][]float64) ([]float64, error) {
	out := make([]float64, len(xs))
	for i, x := range xs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = s.Obj.Eval(x)
	}
	return out, nil
}

func (s *SerialEvaluator) Close() error { return nil }
