package model

import (
	"math"

	"github.com/igresh/refl1d/internal/material"
)

// Profile is a step discretisation of the scattering length density
// through the sample, ready for the optical matrix calculation. The
// first and last entries are the semi-infinite ambient and substrate;
// their thicknesses are ignored.
type Profile struct {
	Thickness []float64 // A
	Rho       []float64 // 1e-6/A^2
	Irho      []float64 // 1e-6/A^2
	RhoM      []float64 // 1e-6/A^2, magnetic SLD along the applied field
	Sigma     []float64 // A, interface i sits between slab i and i+1
}

// Magnetic reports whether any slab carries magnetic scattering.
func (p *Profile) Magnetic() bool {
	for _, m := range p.RhoM {
		if m != 0 {
			return true
		}
	}
	return false
}

// addSlab appends one step to the profile. The sigma argument is the
// roughness of the interface between this slab and the previous one; it
// is dropped for the first slab, which has no upper interface.
func (p *Profile) addSlab(d, rho, irho, rhoM, sigma float64) {
	if len(p.Thickness) > 0 {
		p.Sigma = append(p.Sigma, sigma)
	}
	p.Thickness = append(p.Thickness, d)
	p.Rho = append(p.Rho, rho)
	p.Irho = append(p.Irho, irho)
	p.RhoM = append(p.RhoM, rhoM)
}

// Layer is one piece of the sample stack.
type Layer interface {
	Name() string
	// Parameters lists every parameter the layer owns, fixed or free.
	Parameters() []*Parameter
	// render appends the layer's microslabs to the profile. dz is the
	// microslab width for layers with continuously varying profiles.
	render(p *Profile, dz float64)
	clone(pm paramMap) Layer
}

// Slab is a uniform layer: one material, one thickness, one roughness
// for the interface above it.
type Slab struct {
	Label     string
	Thickness *Parameter
	Rho       *Parameter
	Irho      *Parameter
	Roughness *Parameter // interface to the previous (shallower) layer
}

// NewSlab builds a slab from a material. The SLD parameters start at
// the material's computed values and may be freed for fitting.
func NewSlab(label string, mat material.Material, thickness, roughness float64) *Slab {
	rho, irho := mat.SLD()
	return &Slab{
		Label:     label,
		Thickness: NewParameter(label+" thickness", thickness),
		Rho:       NewParameter(label+" rho", rho),
		Irho:      NewParameter(label+" irho", irho),
		Roughness: NewParameter(label+" interface", roughness),
	}
}

func (s *Slab) Name() string { return s.Label }

func (s *Slab) Parameters() []*Parameter {
	return []*Parameter{s.Thickness, s.Rho, s.Irho, s.Roughness}
}

func (s *Slab) render(p *Profile, dz float64) {
	p.addSlab(s.Thickness.Value(), s.Rho.Value(), s.Irho.Value(), 0, s.Roughness.Value())
}

func (s *Slab) clone(pm paramMap) Layer {
	return &Slab{
		Label:     s.Label,
		Thickness: pm.clone(s.Thickness),
		Rho:       pm.clone(s.Rho),
		Irho:      pm.clone(s.Irho),
		Roughness: pm.clone(s.Roughness),
	}
}

// MagneticSlab is a slab with an in-plane magnetic moment. RhoM is the
// magnetic SLD and ThetaM the moment angle in degrees relative to the
// applied field (0 = parallel).
type MagneticSlab struct {
	Slab
	RhoM   *Parameter
	ThetaM *Parameter
}

// NewMagneticSlab builds a magnetic slab with the given magnetic SLD
// (1e-6/A^2) and moment angle (degrees).
func NewMagneticSlab(label string, mat material.Material, thickness, roughness, rhoM, thetaM float64) *MagneticSlab {
	return &MagneticSlab{
		Slab:   *NewSlab(label, mat, thickness, roughness),
		RhoM:   NewParameter(label+" rhoM", rhoM),
		ThetaM: NewParameter(label+" thetaM", thetaM),
	}
}

func (s *MagneticSlab) Parameters() []*Parameter {
	return append(s.Slab.Parameters(), s.RhoM, s.ThetaM)
}

func (s *MagneticSlab) render(p *Profile, dz float64) {
	// Only the moment component along the field contributes to the
	// non-spin-flip channels.
	rhoM := s.RhoM.Value() * math.Cos(s.ThetaM.Value()*math.Pi/180)
	p.addSlab(s.Thickness.Value(), s.Rho.Value(), s.Irho.Value(), rhoM, s.Roughness.Value())
}

func (s *MagneticSlab) clone(pm paramMap) Layer {
	return &MagneticSlab{
		Slab:   *s.Slab.clone(pm).(*Slab),
		RhoM:   pm.clone(s.RhoM),
		ThetaM: pm.clone(s.ThetaM),
	}
}

// Brush is a polymer brush layer with volume fraction profile
// phi(z) = Phi0*(1-(z/L)^2)^Power, the parabolic brush when Power is 1,
// rendered as microslabs of polymer mixed into solvent. The profile is
// smooth, so internal interfaces carry no roughness; only the entry
// interface does.
type Brush struct {
	Label      string
	PolymerRho *Parameter // SLD of the dry polymer
	SolventRho *Parameter // SLD of the solvent filling the gaps
	Thickness  *Parameter // brush extent L
	Phi0       *Parameter // volume fraction at the grafting surface
	Power      *Parameter // profile shape exponent; 1 is the parabolic brush
	Roughness  *Parameter
}

// NewBrush builds a parabolic brush layer.
func NewBrush(label string, polymer, solvent material.Material, thickness, phi0, power, roughness float64) *Brush {
	prho, _ := polymer.SLD()
	srho, _ := solvent.SLD()
	return &Brush{
		Label:      label,
		PolymerRho: NewParameter(label+" polymer rho", prho),
		SolventRho: NewParameter(label+" solvent rho", srho),
		Thickness:  NewParameter(label+" thickness", thickness),
		Phi0:       NewParameter(label+" phi0", phi0),
		Power:      NewParameter(label+" power", power),
		Roughness:  NewParameter(label+" interface", roughness),
	}
}

func (b *Brush) Name() string { return b.Label }

func (b *Brush) Parameters() []*Parameter {
	return []*Parameter{b.PolymerRho, b.SolventRho, b.Thickness, b.Phi0, b.Power, b.Roughness}
}

func (b *Brush) render(p *Profile, dz float64) {
	L := b.Thickness.Value()
	if L <= 0 {
		return
	}
	if dz <= 0 {
		dz = 0.5
	}
	n := int(math.Ceil(L / dz))
	if n < 1 {
		n = 1
	}
	step := L / float64(n)
	phi0 := b.Phi0.Value()
	power := b.Power.Value()
	prho := b.PolymerRho.Value()
	srho := b.SolventRho.Value()
	for i := 0; i < n; i++ {
		// volume fraction at the slab midpoint, z measured from the
		// grafting surface at the deep end of the brush; slabs render
		// top down, so the dilute tail comes first
		z := L - (float64(i)+0.5)*step
		u := 1 - (z/L)*(z/L)
		if u < 0 {
			u = 0
		}
		phi := phi0 * math.Pow(u, power)
		rho := phi*prho + (1-phi)*srho
		sigma := 0.0
		if i == 0 {
			sigma = b.Roughness.Value()
		}
		p.addSlab(step, rho, 0, 0, sigma)
	}
}

func (b *Brush) clone(pm paramMap) Layer {
	return &Brush{
		Label:      b.Label,
		PolymerRho: pm.clone(b.PolymerRho),
		SolventRho: pm.clone(b.SolventRho),
		Thickness:  pm.clone(b.Thickness),
		Phi0:       pm.clone(b.Phi0),
		Power:      pm.clone(b.Power),
		Roughness:  pm.clone(b.Roughness),
	}
}

// Stack is the full sample: ambient medium first, substrate last.
type Stack struct {
	Name   string
	Layers []Layer
}

// Profile renders the stack into a step profile with microslab width dz.
func (s *Stack) Profile(dz float64) *Profile {
	p := &Profile{}
	for _, l := range s.Layers {
		l.render(p, dz)
	}
	return p
}

// Parameters returns the distinct parameters of all layers in order of
// first appearance. Shared parameters are listed once.
func (s *Stack) Parameters() []*Parameter {
	seen := make(map[*Parameter]bool)
	var out []*Parameter
	for _, l := range s.Layers {
		for _, p := range l.Parameters() {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// FreeParameters returns the parameters marked free, excluding tied ones.
func (s *Stack) FreeParameters() []*Parameter {
	var out []*Parameter
	for _, p := range s.Parameters() {
		if p.Free && !p.Tied() {
			out = append(out, p)
		}
	}
	return out
}

// Clone deep-copies the stack. Shared and tied parameters keep their
// relationships in the copy, so clones can be evaluated concurrently.
func (s *Stack) Clone() *Stack {
	pm := make(paramMap)
	c := &Stack{Name: s.Name, Layers: make([]Layer, len(s.Layers))}
	for i, l := range s.Layers {
		c.Layers[i] = l.clone(pm)
	}
	return c
}
