// Package reflectivity computes specular reflectivity curves from step
// profiles using the optical transfer matrix recursion with Nevot-Croce
// interfacial roughness, plus the Fresnel reference curve and Gaussian
// resolution smearing.
package reflectivity

import (
	"math"
	"math/cmplx"

	"github.com/igresh/refl1d/internal/model"
)

// sldUnits converts profile SLD values (1e-6/A^2) into 1/A^2.
const sldUnits = 1e-6

// Compute returns the unpolarised reflectivity R(Q) of the profile at
// each Q point. For magnetic profiles this is the average of the two
// non-spin-flip channels.
func Compute(p *model.Profile, q []float64) []float64 {
	if !p.Magnetic() {
		return channel(p, q, 0)
	}
	plus := channel(p, q, +1)
	minus := channel(p, q, -1)
	out := make([]float64, len(q))
	for i := range out {
		out[i] = (plus[i] + minus[i]) / 2
	}
	return out
}

// SpinChannels returns the two non-spin-flip reflectivities R++ and R--
// for a magnetic profile. Spin-flip scattering is not modelled.
func SpinChannels(p *model.Profile, q []float64) (plus, minus []float64) {
	return channel(p, q, +1), channel(p, q, -1)
}

// channel runs the Parratt recursion for one spin state. spin +1 and -1
// add and subtract the magnetic SLD; 0 ignores it.
func channel(p *model.Profile, q []float64, spin float64) []float64 {
	n := len(p.Rho)
	out := make([]float64, len(q))
	if n < 2 {
		return out
	}

	// Effective complex SLD per slab relative to the ambient medium.
	// Absorption enters with a negative imaginary part so that the
	// principal square root of kz^2 gives decaying waves under the
	// exp(2i kz d) phase convention.
	rho := make([]complex128, n)
	rho0 := p.Rho[0] + spin*p.RhoM[0]
	for j := 0; j < n; j++ {
		re := p.Rho[j] + spin*p.RhoM[j] - rho0
		rho[j] = complex(re*sldUnits, -p.Irho[j]*sldUnits)
	}

	for i, qi := range q {
		// Negative Q measures the mirror geometry; the non-magnetic
		// front-side curve is symmetric.
		kz0sq := complex(qi*qi/4, 0)

		kz := make([]complex128, n)
		for j := 0; j < n; j++ {
			kz[j] = cmplx.Sqrt(kz0sq - complex(4*math.Pi, 0)*rho[j])
		}

		// recursion from the substrate up
		var r complex128
		for j := n - 2; j >= 0; j-- {
			denom := kz[j] + kz[j+1]
			var f complex128
			if denom != 0 {
				f = (kz[j] - kz[j+1]) / denom
			}
			sigma := p.Sigma[j]
			if sigma > 0 {
				f *= cmplx.Exp(-2 * kz[j] * kz[j+1] * complex(sigma*sigma, 0))
			}
			if j == n-2 {
				r = f
				continue
			}
			phase := cmplx.Exp(2i * kz[j+1] * complex(p.Thickness[j+1], 0))
			rp := r * phase
			r = (f + rp) / (1 + f*rp)
		}
		out[i] = real(r)*real(r) + imag(r)*imag(r)
	}
	return out
}

// Fresnel returns the reflectivity of a single ambient/substrate
// interface with the given SLDs (1e-6/A^2) and roughness (A). It is the
// reference curve for the "fresnel" data view.
func Fresnel(rhoAmbient, rhoSubstrate, sigma float64, q []float64) []float64 {
	p := &model.Profile{
		Thickness: []float64{0, 0},
		Rho:       []float64{rhoAmbient, rhoSubstrate},
		Irho:      []float64{0, 0},
		RhoM:      []float64{0, 0},
		Sigma:     []float64{sigma},
	}
	return channel(p, q, 0)
}

// gaussQuadPoints is the number of abscissae used to integrate the
// resolution gaussian over +/-3 sigma.
const gaussQuadPoints = 17

var gaussAbscissae, gaussWeights = gaussKernel()

func gaussKernel() ([]float64, []float64) {
	xs := make([]float64, gaussQuadPoints)
	ws := make([]float64, gaussQuadPoints)
	var total float64
	for i := 0; i < gaussQuadPoints; i++ {
		x := -3 + 6*float64(i)/float64(gaussQuadPoints-1)
		w := math.Exp(-x * x / 2)
		xs[i] = x
		ws[i] = w
		total += w
	}
	for i := range ws {
		ws[i] /= total
	}
	return xs, ws
}

// Smeared returns the reflectivity convolved with a Gaussian resolution
// of width dq[i] at each measurement point. Points with dq <= 0 are
// returned unsmeared.
func Smeared(p *model.Profile, q, dq []float64) []float64 {
	// Gather every shifted evaluation point so the profile transfer
	// matrices are set up once per curve rather than once per point.
	eval := make([]float64, 0, len(q)*gaussQuadPoints)
	for i, qi := range q {
		if i < len(dq) && dq[i] > 0 {
			for _, x := range gaussAbscissae {
				eval = append(eval, math.Abs(qi+x*dq[i]))
			}
		} else {
			eval = append(eval, math.Abs(qi))
		}
	}

	curve := Compute(p, eval)

	out := make([]float64, len(q))
	k := 0
	for i := range q {
		if i < len(dq) && dq[i] > 0 {
			var sum float64
			for j := 0; j < gaussQuadPoints; j++ {
				sum += gaussWeights[j] * curve[k]
				k++
			}
			out[i] = sum
		} else {
			out[i] = curve[k]
			k++
		}
	}
	return out
}
