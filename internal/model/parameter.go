package model

import "fmt"

// Parameter is a single fittable quantity. Most parameters hold their
// own value; a tied parameter mirrors another parameter scaled by a
// constant, which is how shared roughnesses and fixed-ratio thicknesses
// are expressed.
type Parameter struct {
	Name   string
	Bounds Bounds
	Free   bool

	value float64
	tied  *Parameter
	scale float64
}

// NewParameter creates a fixed parameter with the given value and no
// constraint. Call Range or SetBounds to make it fittable.
func NewParameter(name string, value float64) *Parameter {
	return &Parameter{Name: name, value: value, Bounds: Unbounded{}}
}

// Value returns the current value, following ties.
func (p *Parameter) Value() float64 {
	if p.tied != nil {
		return p.tied.Value() * p.scale
	}
	return p.value
}

// SetValue assigns the value. Setting a tied parameter is an error in
// the caller; it is ignored here so optimizers never corrupt a tie.
func (p *Parameter) SetValue(v float64) {
	if p.tied != nil {
		return
	}
	p.value = v
}

// Range marks the parameter free within [lo, hi].
func (p *Parameter) Range(lo, hi float64) *Parameter {
	p.Bounds = InitBounds(lo, hi)
	p.Free = true
	return p
}

// SetBounds marks the parameter free with explicit bounds.
func (p *Parameter) SetBounds(b Bounds) *Parameter {
	p.Bounds = b
	p.Free = true
	return p
}

// TieTo makes this parameter track other*scale. A tied parameter is
// never free; its value comes entirely from the tie.
func (p *Parameter) TieTo(other *Parameter, scale float64) *Parameter {
	p.tied = other
	p.scale = scale
	p.Free = false
	return p
}

// Tied reports whether this parameter mirrors another.
func (p *Parameter) Tied() bool { return p.tied != nil }

// NLLF returns the bounds penalty for the current value.
func (p *Parameter) NLLF() float64 { return p.Bounds.NLLF(p.Value()) }

// Residual returns the bounds residual for the current value.
func (p *Parameter) Residual() float64 { return p.Bounds.Residual(p.Value()) }

func (p *Parameter) String() string {
	return fmt.Sprintf("%s=%g in %s", p.Name, p.Value(), p.Bounds)
}

// paramMap tracks parameter identity during a stack clone so ties and
// shared parameters stay shared in the copy.
type paramMap map[*Parameter]*Parameter

func (pm paramMap) clone(p *Parameter) *Parameter {
	if p == nil {
		return nil
	}
	if c, ok := pm[p]; ok {
		return c
	}
	c := &Parameter{
		Name:   p.Name,
		Bounds: p.Bounds,
		Free:   p.Free,
		value:  p.value,
		scale:  p.scale,
	}
	pm[p] = c
	if p.tied != nil {
		c.tied = pm.clone(p.tied)
	}
	return c
}
