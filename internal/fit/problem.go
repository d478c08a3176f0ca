// Package fit binds a sample model to measured data and drives the
// optimization engines: differential evolution for the global search
// and Levenberg-Marquardt for local refinement, with uncertainty
// estimated from the covariance structure at the optimum.
package fit

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/igresh/refl1d/internal/model"
	"github.com/igresh/refl1d/internal/probe"
	"github.com/igresh/refl1d/internal/reflectivity"
)

// Objective is the minimal surface the optimizers need: a cost function
// over a bounded parameter vector. Eval is not goroutine-safe; parallel
// evaluators work on independent Clones.
type Objective interface {
	Dim() int
	Names() []string
	Bounds() (lo, hi []float64)
	Start() []float64
	RandomPoint(rng *rand.Rand) []float64
	Eval(x []float64) float64
	Clone() Objective
}

// LeastSquarer extends Objective with the weighted residual vector that
// gradient engines and the covariance estimate are built on.
type LeastSquarer interface {
	Objective
	Residuals(x []float64) []float64
}

// Problem binds a stack to one measured curve. The free parameters of
// the stack form the fit vector, in stack order.
type Problem struct {
	Stack *model.Stack
	Data  *probe.Probe

	// DZ is the microslab width for profile layers, in A.
	DZ float64

	free []*model.Parameter
}

// DefaultDZ is the microslab width used when none is configured.
const DefaultDZ = 0.5

// NewProblem builds a fit problem. The stack must have at least one
// free parameter and the probe at least as many points as parameters.
func NewProblem(stack *model.Stack, data *probe.Probe, dz float64) (*Problem, error) {
	free := stack.FreeParameters()
	if len(free) == 0 {
		return nil, fmt.Errorf("model %q has no free parameters", stack.Name)
	}
	if data.Len() < len(free) {
		return nil, fmt.Errorf("probe %q has %d points for %d parameters", data.Name, data.Len(), len(free))
	}
	if dz <= 0 {
		dz = DefaultDZ
	}
	return &Problem{Stack: stack, Data: data, DZ: dz, free: free}, nil
}

// Dim returns the number of free parameters.
func (p *Problem) Dim() int { return len(p.free) }

// Names returns the free parameter names in vector order.
func (p *Problem) Names() []string {
	names := make([]string, len(p.free))
	for i, par := range p.free {
		names[i] = par.Name
	}
	return names
}

// Bounds returns the hard limits of each free parameter. Either end may
// be infinite.
func (p *Problem) Bounds() (lo, hi []float64) {
	lo = make([]float64, len(p.free))
	hi = make([]float64, len(p.free))
	for i, par := range p.free {
		lo[i], hi[i] = par.Bounds.Limits()
	}
	return lo, hi
}

// Start returns the current parameter values as the starting vector.
func (p *Problem) Start() []float64 {
	x := make([]float64, len(p.free))
	for i, par := range p.free {
		x[i] = par.Value()
	}
	return x
}

// RandomPoint draws a vector from the parameter bounds, for population
// seeding.
func (p *Problem) RandomPoint(rng *rand.Rand) []float64 {
	x := make([]float64, len(p.free))
	for i, par := range p.free {
		x[i] = par.Bounds.Random(rng)
	}
	return x
}

// SetVector assigns the free parameters from the vector.
func (p *Problem) SetVector(x []float64) {
	for i, par := range p.free {
		par.SetValue(x[i])
	}
}

// Theory computes the resolution-smeared model reflectivity at the
// probe's Q points for the current parameter values.
func (p *Problem) Theory() []float64 {
	prof := p.Stack.Profile(p.DZ)
	return reflectivity.Smeared(prof, p.Data.Q, p.Data.DQ)
}

// Residuals returns the weighted residuals (theory-data)/dR at x.
func (p *Problem) Residuals(x []float64) []float64 {
	p.SetVector(x)
	theory := p.Theory()
	out := make([]float64, len(theory))
	for i := range theory {
		dr := p.Data.DR[i]
		if dr <= 0 {
			dr = 1
		}
		out[i] = (theory[i] - p.Data.R[i]) / dr
	}
	return out
}

// Chi2 returns the sum of squared weighted residuals at x.
func (p *Problem) Chi2(x []float64) float64 {
	var sum float64
	for _, r := range p.Residuals(x) {
		sum += r * r
	}
	return sum
}

// Eval returns the negative log likelihood at x: chi^2/2 plus the
// bounds penalties, so soft and distribution bounds shape the search.
func (p *Problem) Eval(x []float64) float64 {
	var penalty float64
	for i, par := range p.free {
		penalty += par.Bounds.NLLF(x[i])
	}
	if math.IsInf(penalty, 1) {
		return penalty
	}
	return p.Chi2(x)/2 + penalty
}

// DOF returns the degrees of freedom: points minus free parameters.
func (p *Problem) DOF() int { return p.Data.Len() - len(p.free) }

// Clone returns an independent copy safe to evaluate concurrently with
// the original. The probe is shared; it is never mutated.
func (p *Problem) Clone() Objective {
	stack := p.Stack.Clone()
	return &Problem{
		Stack: stack,
		Data:  p.Data,
		DZ:    p.DZ,
		free:  stack.FreeParameters(),
	}
}
