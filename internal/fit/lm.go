package fit

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// LMOptions configures the Levenberg-Marquardt engine.
type LMOptions struct {
	// MaxIterations stops the run after this many accepted steps.
	MaxIterations int
	// GTol converges when the infinity norm of the gradient J'r drops
	// below it.
	GTol float64
	// XTol converges when the step length drops below XTol relative to
	// the parameter vector.
	XTol float64
	// Lambda0 is the initial damping.
	Lambda0 float64
	// Progress, when set, is called after each accepted step.
	Progress ProgressFunc
}

// LM is a Levenberg-Marquardt least squares optimizer with a forward
// difference Jacobian and Marquardt diagonal scaling. Steps are
// clipped to the hard parameter bounds.
type LM struct {
	opts LMOptions
}

// NewLM builds an LM engine with defaults filled in.
func NewLM(opts LMOptions) *LM {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 200
	}
	if opts.GTol <= 0 {
		opts.GTol = 1e-8
	}
	if opts.XTol <= 0 {
		opts.XTol = 1e-10
	}
	if opts.Lambda0 <= 0 {
		opts.Lambda0 = 1e-3
	}
	return &LM{opts: opts}
}

// Optimize refines the objective's starting point. The objective must
// implement LeastSquarer.
func (lm *LM) Optimize(ctx context.Context, obj Objective) (*Result, error) {
	lsq, ok := obj.(LeastSquarer)
	if !ok {
		return nil, fmt.Errorf("objective %T does not expose residuals", obj)
	}
	lo, hi := obj.Bounds()
	x := clip(obj.Start(), lo, hi)
	dim := obj.Dim()

	r := lsq.Residuals(x)
	m := len(r)
	if m < dim {
		return nil, fmt.Errorf("%d residuals for %d parameters", m, dim)
	}
	cost := sumsq(r)
	evals := 1
	lambda := lm.opts.Lambda0

	res := &Result{X: append([]float64(nil), x...), Value: cost, Evaluations: evals}
	for iter := 0; iter < lm.opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			res.Message = "interrupted: " + err.Error()
			return res, nil
		}

		jac, jevals := jacobian(lsq, x, r, lo, hi)
		evals += jevals

		// Normal equations: (J'J + lambda diag(J'J)) dx = -J'r.
		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		grad := make([]float64, dim)
		for j := 0; j < dim; j++ {
			var g float64
			for i := 0; i < m; i++ {
				g += jac.At(i, j) * r[i]
			}
			grad[j] = g
		}
		if normInf(grad) < lm.opts.GTol {
			res.Converged = true
			res.Message = "gradient below tolerance"
			res.Iterations = iter
			res.Evaluations = evals
			return res, nil
		}

		accepted := false
		for try := 0; try < 20; try++ {
			damped := mat.NewSymDense(dim, nil)
			damped.CopySym(&jtj)
			for j := 0; j < dim; j++ {
				d := jtj.At(j, j)
				if d == 0 {
					d = 1
				}
				damped.SetSym(j, j, d*(1+lambda))
			}
			var chol mat.Cholesky
			if !chol.Factorize(damped) {
				lambda *= 10
				continue
			}
			rhs := mat.NewVecDense(dim, nil)
			for j := 0; j < dim; j++ {
				rhs.SetVec(j, -grad[j])
			}
			var step mat.VecDense
			if err := chol.SolveVecTo(&step, rhs); err != nil {
				lambda *= 10
				continue
			}

			xNew := make([]float64, dim)
			for j := 0; j < dim; j++ {
				xNew[j] = x[j] + step.AtVec(j)
			}
			xNew = clip(xNew, lo, hi)
			rNew := lsq.Residuals(xNew)
			evals++
			costNew := sumsq(rNew)
			if costNew < cost {
				stepLen := dist(xNew, x)
				x, r, cost = xNew, rNew, costNew
				lambda = math.Max(lambda/10, 1e-12)
				accepted = true
				res.X = append(res.X[:0], x...)
				res.Value = cost
				if lm.opts.Progress != nil {
					lm.opts.Progress(Progress{
						Iteration: iter + 1, Best: cost, Mean: cost,
						X: x, Evaluations: evals,
					})
				}
				if stepLen < lm.opts.XTol*(norm2(x)+lm.opts.XTol) {
					res.Converged = true
					res.Message = "step below tolerance"
					res.Iterations = iter + 1
					res.Evaluations = evals
					return res, nil
				}
				break
			}
			lambda *= 10
		}
		if !accepted {
			res.Converged = true
			res.Message = "no downhill step found"
			res.Iterations = iter
			res.Evaluations = evals
			return res, nil
		}
		res.Iterations = iter + 1
	}
	res.Evaluations = evals
	res.Message = "iteration limit reached"
	return res, nil
}

// jacobian builds the forward difference Jacobian of the residuals at
// x, stepping away from any bound that would be crossed.
func jacobian(lsq LeastSquarer, x, r []float64, lo, hi []float64) (*mat.Dense, int) {
	m, dim := len(r), len(x)
	jac := mat.NewDense(m, dim, nil)
	evals := 0
	for j := 0; j < dim; j++ {
		h := math.Sqrt(eps) * math.Max(math.Abs(x[j]), 1)
		xj := x[j] + h
		if xj > hi[j] {
			h = -h
			xj = x[j] + h
		}
		xs := append([]float64(nil), x...)
		xs[j] = xj
		rs := lsq.Residuals(xs)
		evals++
		for i := 0; i < m; i++ {
			jac.Set(i, j, (rs[i]-r[i])/h)
		}
	}
	return jac, evals
}

const eps = 2.220446049250313e-16

func sumsq(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return sum
}

func normInf(v []float64) float64 {
	var n float64
	for _, x := range v {
		if a := math.Abs(x); a > n {
			n = a
		}
	}
	return n
}

func norm2(v []float64) float64 { return math.Sqrt(sumsq(v)) }

func dist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
