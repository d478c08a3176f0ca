// Package model describes layered samples: fittable parameters with
// bounds, slab and profile layers, and the stack that renders them into
// a depth profile for the reflectivity calculation.
package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// Bounds constrain a fit parameter. Beyond the hard range they provide
// the box transform used by the optimizers (Get01/Put01), random draws
// for population seeding, and a negative log likelihood so distribution
// bounds act as soft penalties on the fit.
type Bounds interface {
	// Limits returns the hard range; either end may be infinite.
	Limits() (lo, hi float64)
	// NLLF returns the negative log likelihood of the value, scaled so
	// the most probable value scores zero. Hard bounds return 0 or +Inf.
	NLLF(v float64) float64
	// Residual maps the value onto an N(0,1)-style residual for display:
	// 0 inside hard bounds, +/-4 outside, graded for soft bounds.
	Residual(v float64) float64
	// Get01 maps the value into [0,1] for box-constrained optimizers.
	Get01(v float64) float64
	// Put01 maps [0,1] back to a value.
	Put01(u float64) float64
	// Random draws a valid value for population initialisation.
	Random(rng *rand.Rand) float64
	fmt.Stringer
}

// exponent range of float64, used by the logarithmic compression that
// maps semi-infinite and infinite ranges onto [0,1].
const (
	eMin = -1023
	eMax = 1024
)

func get01Inf(x float64) float64 {
	m, e := math.Frexp(x)
	s := 1.0
	if m < 0 {
		s = -1.0
	}
	if e < eMin {
		return 0
	}
	if e > eMax {
		return 1
	}
	v := (float64(e-eMin) + m*s) * s
	return v/(4*eMax) + 0.5
}

func put01Inf(u float64) float64 {
	v := (u - 0.5) * 4 * eMax
	s := 1.0
	if v < 0 {
		s = -1.0
		v = -v
	}
	e := int(v)
	m := v - float64(e)
	return math.Ldexp(s*m, e+eMin)
}

// Unbounded places no constraint on the parameter.
type Unbounded struct{}

func (Unbounded) Limits() (float64, float64)    { return math.Inf(-1), math.Inf(1) }
func (Unbounded) NLLF(float64) float64          { return 0 }
func (Unbounded) Residual(float64) float64      { return 0 }
func (Unbounded) Get01(v float64) float64       { return get01Inf(v) }
func (Unbounded) Put01(u float64) float64       { return put01Inf(u) }
func (Unbounded) Random(rng *rand.Rand) float64 { return rng.Float64() }
func (Unbounded) String() string                { return "(-inf,inf)" }

// Bounded restricts the parameter to [Lo, Hi].
type Bounded struct {
	Lo, Hi float64
}

func (b Bounded) Limits() (float64, float64) { return b.Lo, b.Hi }

func (b Bounded) NLLF(v float64) float64 {
	if v < b.Lo || v > b.Hi {
		return math.Inf(1)
	}
	return 0
}

func (b Bounded) Residual(v float64) float64 {
	switch {
	case v < b.Lo:
		return -4
	case v > b.Hi:
		return 4
	default:
		return 0
	}
}

func (b Bounded) Get01(v float64) float64 {
	if b.Hi <= b.Lo {
		return 0
	}
	return (v - b.Lo) / (b.Hi - b.Lo)
}

func (b Bounded) Put01(u float64) float64 { return b.Lo + u*(b.Hi-b.Lo) }

func (b Bounded) Random(rng *rand.Rand) float64 {
	return b.Lo + rng.Float64()*(b.Hi-b.Lo)
}

func (b Bounded) String() string { return fmt.Sprintf("(%s,%s)", numFormat(b.Lo), numFormat(b.Hi)) }

// BoundedBelow is the semidefinite range [Base, inf).
type BoundedBelow struct {
	Base float64
}

func (b BoundedBelow) Limits() (float64, float64) { return b.Base, math.Inf(1) }

func (b BoundedBelow) NLLF(v float64) float64 {
	if v < b.Base {
		return math.Inf(1)
	}
	return 0
}

func (b BoundedBelow) Residual(v float64) float64 {
	if v < b.Base {
		return -4
	}
	return 0
}

func (b BoundedBelow) Get01(v float64) float64 {
	m, e := math.Frexp(v - b.Base)
	if m < 0 {
		return 0
	}
	if e > eMax {
		return 1
	}
	return (float64(e) + m) / (2 * eMax)
}

func (b BoundedBelow) Put01(u float64) float64 {
	v := u * 2 * eMax
	e := int(v)
	m := v - float64(e)
	return math.Ldexp(m, e) + b.Base
}

func (b BoundedBelow) Random(rng *rand.Rand) float64 { return b.Base + rng.Float64() }

func (b BoundedBelow) String() string { return fmt.Sprintf("(%s,inf)", numFormat(b.Base)) }

// BoundedAbove is the semidefinite range (-inf, Base].
type BoundedAbove struct {
	Base float64
}

func (b BoundedAbove) Limits() (float64, float64) { return math.Inf(-1), b.Base }

func (b BoundedAbove) NLLF(v float64) float64 {
	if v > b.Base {
		return math.Inf(1)
	}
	return 0
}

func (b BoundedAbove) Residual(v float64) float64 {
	if v > b.Base {
		return 4
	}
	return 0
}

func (b BoundedAbove) Get01(v float64) float64 {
	m, e := math.Frexp(b.Base - v)
	if m < 0 {
		return 1
	}
	if e > eMax {
		return 0
	}
	return 1 - (float64(e)+m)/(2*eMax)
}

func (b BoundedAbove) Put01(u float64) float64 {
	v := (1 - u) * 2 * eMax
	e := int(v)
	m := v - float64(e)
	return b.Base - math.Ldexp(m, e)
}

func (b BoundedAbove) Random(rng *rand.Rand) float64 { return b.Base - rng.Float64() }

func (b BoundedAbove) String() string { return fmt.Sprintf("(-inf,%s)", numFormat(b.Base)) }

// SoftBounded is a rectangular range with gaussian tails: draws stay in
// [Lo, Hi] but values outside incur a finite quadratic penalty rather
// than rejection, with penalty scale Width.
type SoftBounded struct {
	Lo, Hi, Width float64
}

func (b SoftBounded) Limits() (float64, float64) { return b.Lo, b.Hi }

func (b SoftBounded) NLLF(v float64) float64 {
	w := b.Width
	if w <= 0 {
		w = 1
	}
	switch {
	case v < b.Lo:
		d := (b.Lo - v) / w
		return d * d / 2
	case v > b.Hi:
		d := (v - b.Hi) / w
		return d * d / 2
	default:
		return 0
	}
}

func (b SoftBounded) Residual(v float64) float64 {
	w := b.Width
	if w <= 0 {
		w = 1
	}
	switch {
	case v < b.Lo:
		return -(b.Lo - v) / w
	case v > b.Hi:
		return (v - b.Hi) / w
	default:
		return 0
	}
}

func (b SoftBounded) Get01(v float64) float64 {
	if b.Hi <= b.Lo {
		return 0
	}
	u := (v - b.Lo) / (b.Hi - b.Lo)
	return math.Min(1, math.Max(0, u))
}

func (b SoftBounded) Put01(u float64) float64 { return b.Lo + u*(b.Hi-b.Lo) }

func (b SoftBounded) Random(rng *rand.Rand) float64 {
	return b.Lo + rng.Float64()*(b.Hi-b.Lo)
}

func (b SoftBounded) String() string {
	return fmt.Sprintf("stretch_norm(%g,%g,sigma=%g)", b.Lo, b.Hi, b.Width)
}

// Normal pulls the parameter from a gaussian prior, for values measured
// independently (say a TEM film thickness of 35+/-5).
type Normal struct {
	Mean, Std float64
}

func (b Normal) dist() distuv.Normal { return distuv.Normal{Mu: b.Mean, Sigma: b.Std} }

func (b Normal) Limits() (float64, float64) { return math.Inf(-1), math.Inf(1) }

func (b Normal) NLLF(v float64) float64 {
	d := (v - b.Mean) / b.Std
	return d * d / 2
}

func (b Normal) Residual(v float64) float64 { return (v - b.Mean) / b.Std }

func (b Normal) Get01(v float64) float64 { return b.dist().CDF(v) }

func (b Normal) Put01(u float64) float64 {
	if u <= 0 {
		return math.Inf(-1)
	}
	if u >= 1 {
		return math.Inf(1)
	}
	return b.dist().Quantile(u)
}

func (b Normal) Random(rng *rand.Rand) float64 { return b.Mean + b.Std*rng.NormFloat64() }

func (b Normal) String() string { return fmt.Sprintf("norm(%g,%g)", b.Mean, b.Std) }

// InitBounds builds the appropriate bounds for a (lo, hi) pair where
// either end may be infinite or NaN (meaning unconstrained).
func InitBounds(lo, hi float64) Bounds {
	loInf := math.IsInf(lo, -1) || math.IsNaN(lo)
	hiInf := math.IsInf(hi, 1) || math.IsNaN(hi)
	switch {
	case loInf && hiInf:
		return Unbounded{}
	case loInf:
		return BoundedAbove{Base: hi}
	case hiInf:
		return BoundedBelow{Base: lo}
	default:
		return Bounded{Lo: lo, Hi: hi}
	}
}

// PM returns nice bounds v-dv to v+dv, rounded outward to two digits.
func PM(v, dv float64) Bounds {
	lo, hi := NiceRange(v-dv, v+dv)
	return Bounded{Lo: lo, Hi: hi}
}

// PMP returns nice bounds v +/- pct percent, rounded outward to two digits.
func PMP(v, pct float64) Bounds {
	lo, hi := v*(1-0.01*pct), v*(1+0.01*pct)
	if v < 0 {
		lo, hi = hi, lo
	}
	lo, hi = NiceRange(lo, hi)
	return Bounded{Lo: lo, Hi: hi}
}

// NiceRange expands (lo, hi) to an enclosing range accurate to two digits.
func NiceRange(lo, hi float64) (float64, float64) {
	step := hi - lo
	if step <= 0 {
		return lo, hi
	}
	d := math.Pow(10, math.Floor(math.Log10(step))-1)
	return math.Floor(lo/d) * d, math.Ceil(hi/d) * d
}

func numFormat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "NaN"
	default:
		return fmt.Sprintf("%g", v)
	}
}
