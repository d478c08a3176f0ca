// Package material models the scattering properties of layer materials:
// direct scattering length densities, chemical formulas with mass
// density, and mixtures of other materials.
package material

import "fmt"

// Probe radiation selects which cross section a formula material reports.
type Radiation string

const (
	Neutron Radiation = "neutron"
	Xray    Radiation = "xray"
)

// Material reports a complex scattering length density in 1e-6/A^2.
type Material interface {
	// Name identifies the material in model files and plots.
	Name() string
	// SLD returns the real and imaginary scattering length density.
	SLD() (rho, irho float64)
}

// SLD is a material defined directly by its scattering length density.
type SLD struct {
	Label string  `json:"name"`
	Rho   float64 `json:"rho"`
	Irho  float64 `json:"irho,omitempty"`
}

func (m SLD) Name() string             { return m.Label }
func (m SLD) SLD() (rho, irho float64) { return m.Rho, m.Irho }

// Vacuum is the zero-SLD ambient medium.
var Vacuum = SLD{Label: "air"}

// Compound is a material defined by chemical formula and mass density.
type Compound struct {
	formula   *Formula
	density   float64
	radiation Radiation
}

// NewCompound parses the formula and binds it to a mass density (g/cm^3)
// and probe radiation.
func NewCompound(formula string, density float64, radiation Radiation) (*Compound, error) {
	if density <= 0 {
		return nil, fmt.Errorf("material %q: density must be positive, got %g", formula, density)
	}
	f, err := ParseFormula(formula)
	if err != nil {
		return nil, err
	}
	if radiation == "" {
		radiation = Neutron
	}
	return &Compound{formula: f, density: density, radiation: radiation}, nil
}

func (c *Compound) Name() string { return c.formula.Text }

func (c *Compound) SLD() (rho, irho float64) {
	if c.radiation == Xray {
		return c.formula.XraySLD(c.density), 0
	}
	return c.formula.NeutronSLD(c.density)
}

// Density returns the bound mass density in g/cm^3.
func (c *Compound) Density() float64 { return c.density }

// Mixture combines materials with volume fractions. Fractions are
// normalised, so callers may pass ratios.
type Mixture struct {
	Label     string
	Parts     []Material
	Fractions []float64
}

// NewMixture builds a volume-fraction mixture. len(parts) must equal
// len(fractions) and the fractions must not sum to zero.
func NewMixture(label string, parts []Material, fractions []float64) (*Mixture, error) {
	if len(parts) == 0 || len(parts) != len(fractions) {
		return nil, fmt.Errorf("mixture %q: need matching parts and fractions, got %d and %d",
			label, len(parts), len(fractions))
	}
	var total float64
	for _, f := range fractions {
		if f < 0 {
			return nil, fmt.Errorf("mixture %q: negative fraction %g", label, f)
		}
		total += f
	}
	if total == 0 {
		return nil, fmt.Errorf("mixture %q: fractions sum to zero", label)
	}
	return &Mixture{Label: label, Parts: parts, Fractions: fractions}, nil
}

func (m *Mixture) Name() string { return m.Label }

func (m *Mixture) SLD() (rho, irho float64) {
	var total float64
	for _, f := range m.Fractions {
		total += f
	}
	for i, p := range m.Parts {
		r, ir := p.SLD()
		w := m.Fractions[i] / total
		rho += w * r
		irho += w * ir
	}
	return rho, irho
}
