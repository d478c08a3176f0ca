package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Uncertainty holds the error estimate at a fit optimum, derived from
// the curvature of chi^2: covariance (J'J)^-1 scaled by the reduced
// chi^2, per parameter standard errors, the correlation matrix, and
// the entropy of the implied Gaussian in bits.
type Uncertainty struct {
	Names       []string
	Stderr      []float64
	Cov         *mat.SymDense
	Corr        *mat.Dense
	ChiSq       float64
	RedChiSq    float64
	DOF         int
	EntropyBits float64
}

// EstimateUncertainty computes the covariance estimate at x. It fails
// when J'J is singular, which usually means a parameter has no effect
// on the measured range.
func EstimateUncertainty(lsq LeastSquarer, x []float64) (*Uncertainty, error) {
	lo, hi := lsq.Bounds()
	r := lsq.Residuals(x)
	m, dim := len(r), len(x)
	dof := m - dim
	if dof <= 0 {
		return nil, fmt.Errorf("%d residuals for %d parameters leaves no degrees of freedom", m, dim)
	}
	jac, _ := jacobian(lsq, x, r, lo, hi)

	var jtj mat.SymDense
	jtj.SymOuterK(1, jac.T())
	var chol mat.Cholesky
	if !chol.Factorize(&jtj) {
		return nil, fmt.Errorf("singular curvature matrix, check for unconstrained parameters")
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("inverting curvature matrix: %w", err)
	}

	chi2 := sumsq(r)
	red := chi2 / float64(dof)
	cov := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			cov.SetSym(i, j, inv.At(i, j)*red)
		}
	}

	stderr := make([]float64, dim)
	for i := 0; i < dim; i++ {
		stderr[i] = math.Sqrt(cov.At(i, i))
	}
	corr := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			d := stderr[i] * stderr[j]
			if d == 0 {
				corr.Set(i, j, 0)
				continue
			}
			corr.Set(i, j, cov.At(i, j)/d)
		}
	}

	return &Uncertainty{
		Names:       lsq.Names(),
		Stderr:      stderr,
		Cov:         cov,
		Corr:        corr,
		ChiSq:       chi2,
		RedChiSq:    red,
		DOF:         dof,
		EntropyBits: gaussianEntropyBits(cov),
	}, nil
}

// gaussianEntropyBits returns the differential entropy of a Gaussian
// with the given covariance, in bits: (k ln(2 pi e) + ln det S) / (2 ln 2).
func gaussianEntropyBits(cov *mat.SymDense) float64 {
	k := cov.SymmetricDim()
	var chol mat.Cholesky
	if !chol.Factorize(cov) {
		return math.NaN()
	}
	logDet := chol.LogDet()
	nats := 0.5 * (float64(k)*math.Log(2*math.Pi*math.E) + logDet)
	return nats / math.Ln2
}

// Report formats the uncertainty as aligned name, value, error lines.
func (u *Uncertainty) Report(x []float64) string {
	out := fmt.Sprintf("chisq=%.4g (reduced %.4g, %d degrees of freedom), entropy=%.2f bits\n",
		u.ChiSq, u.RedChiSq, u.DOF, u.EntropyBits)
	width := 0
	for _, n := range u.Names {
		if len(n) > width {
			width = len(n)
		}
	}
	for i, n := range u.Names {
		out += fmt.Sprintf("  %-*s  %12.6g +/- %.4g\n", width, n, x[i], u.Stderr[i])
	}
	return out
}
