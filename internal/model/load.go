package model

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/igresh/refl1d/internal/material"
)

// ModelFile is the on-disk JSON description of a sample. Materials are
// declared once and referenced by name from the layer list. The layer
// list runs ambient first, substrate last.
type ModelFile struct {
	Name      string                  `json:"name"`
	Radiation string                  `json:"radiation,omitempty"` // "neutron" (default) or "xray"
	Materials map[string]MaterialSpec `json:"materials"`
	Layers    []LayerSpec             `json:"layers"`
}

// MaterialSpec declares a material either by direct SLD (rho/irho) or
// by chemical formula plus mass density.
type MaterialSpec struct {
	Formula string   `json:"formula,omitempty"`
	Density float64  `json:"density,omitempty"` // g/cm^3, with Formula
	Rho     *float64 `json:"rho,omitempty"`     // 1e-6/A^2, direct SLD
	Irho    float64  `json:"irho,omitempty"`

	// Mixture of previously declared materials, by volume fraction.
	Mix       []string  `json:"mix,omitempty"`
	Fractions []float64 `json:"fractions,omitempty"`
}

// LayerSpec declares one layer. Fit ranges map parameter names
// ("thickness", "rho", "irho", "roughness", "rhoM", "thetaM", "phi0",
// "power") to [lo, hi] pairs.
type LayerSpec struct {
	Type      string  `json:"type"` // "slab", "magnetic_slab", "brush"; first/last entries are ambient/substrate slabs
	Material  string  `json:"material"`
	Thickness float64 `json:"thickness,omitempty"`
	Roughness float64 `json:"roughness,omitempty"`

	// magnetic_slab
	RhoM   float64 `json:"rhoM,omitempty"`
	ThetaM float64 `json:"thetaM,omitempty"`

	// brush
	Solvent string  `json:"solvent,omitempty"`
	Phi0    float64 `json:"phi0,omitempty"`
	Power   float64 `json:"power,omitempty"`

	Fit map[string][2]float64 `json:"fit,omitempty"`
}

// LoadModel reads and builds a sample stack from a JSON model file.
func LoadModel(path string) (*Stack, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	var mf ModelFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("parse model file %s: %w", path, err)
	}
	return mf.Build()
}

// Build turns the parsed model file into a stack with fit ranges applied.
func (mf *ModelFile) Build() (*Stack, error) {
	if len(mf.Layers) < 2 {
		return nil, fmt.Errorf("model %q: need at least ambient and substrate layers, got %d", mf.Name, len(mf.Layers))
	}

	rad := material.Neutron
	if mf.Radiation != "" {
		rad = material.Radiation(mf.Radiation)
		if rad != material.Neutron && rad != material.Xray {
			return nil, fmt.Errorf("model %q: unknown radiation %q", mf.Name, mf.Radiation)
		}
	}

	mats, err := mf.buildMaterials(rad)
	if err != nil {
		return nil, err
	}

	stack := &Stack{Name: mf.Name}
	for i, ls := range mf.Layers {
		layer, err := buildLayer(i, ls, mats)
		if err != nil {
			return nil, fmt.Errorf("model %q layer %d: %w", mf.Name, i, err)
		}
		stack.Layers = append(stack.Layers, layer)
	}
	return stack, nil
}

func (mf *ModelFile) buildMaterials(rad material.Radiation) (map[string]material.Material, error) {
	mats := map[string]material.Material{
		"air":    material.Vacuum,
		"vacuum": material.Vacuum,
	}

	// Two passes so mixtures can reference any non-mixture material
	// regardless of declaration order.
	for name, spec := range mf.Materials {
		if len(spec.Mix) > 0 {
			continue
		}
		m, err := buildMaterial(name, spec, rad)
		if err != nil {
			return nil, err
		}
		mats[name] = m
	}
	for name, spec := range mf.Materials {
		if len(spec.Mix) == 0 {
			continue
		}
		parts := make([]material.Material, 0, len(spec.Mix))
		for _, ref := range spec.Mix {
			part, ok := mats[ref]
			if !ok {
				return nil, fmt.Errorf("material %q: unknown mixture component %q", name, ref)
			}
			parts = append(parts, part)
		}
		m, err := material.NewMixture(name, parts, spec.Fractions)
		if err != nil {
			return nil, err
		}
		mats[name] = m
	}
	return mats, nil
}

func buildMaterial(name string, spec MaterialSpec, rad material.Radiation) (material.Material, error) {
	switch {
	case spec.Rho != nil:
		return material.SLD{Label: name, Rho: *spec.Rho, Irho: spec.Irho}, nil
	case spec.Formula != "":
		return material.NewCompound(spec.Formula, spec.Density, rad)
	default:
		return nil, fmt.Errorf("material %q: need formula+density or rho", name)
	}
}

func buildLayer(index int, ls LayerSpec, mats map[string]material.Material) (Layer, error) {
	mat, ok := mats[ls.Material]
	if !ok {
		return nil, fmt.Errorf("unknown material %q", ls.Material)
	}
	label := ls.Material
	if ls.Type == "" {
		ls.Type = "slab"
	}

	var layer Layer
	switch ls.Type {
	case "slab", "ambient", "substrate":
		layer = NewSlab(label, mat, ls.Thickness, ls.Roughness)
	case "magnetic_slab":
		layer = NewMagneticSlab(label, mat, ls.Thickness, ls.Roughness, ls.RhoM, ls.ThetaM)
	case "brush":
		solvent, ok := mats[ls.Solvent]
		if !ok {
			return nil, fmt.Errorf("unknown solvent %q", ls.Solvent)
		}
		power := ls.Power
		if power == 0 {
			power = 1
		}
		layer = NewBrush(label, mat, solvent, ls.Thickness, ls.Phi0, power, ls.Roughness)
	default:
		return nil, fmt.Errorf("unknown layer type %q", ls.Type)
	}

	for pname, rng := range ls.Fit {
		p, err := layerParam(layer, pname)
		if err != nil {
			return nil, err
		}
		p.Range(rng[0], rng[1])
	}
	return layer, nil
}

// layerParam resolves a fit-range key to the layer's parameter.
func layerParam(layer Layer, name string) (*Parameter, error) {
	switch l := layer.(type) {
	case *Slab:
		switch name {
		case "thickness":
			return l.Thickness, nil
		case "rho":
			return l.Rho, nil
		case "irho":
			return l.Irho, nil
		case "roughness":
			return l.Roughness, nil
		}
	case *MagneticSlab:
		switch name {
		case "thickness":
			return l.Thickness, nil
		case "rho":
			return l.Rho, nil
		case "irho":
			return l.Irho, nil
		case "roughness":
			return l.Roughness, nil
		case "rhoM":
			return l.RhoM, nil
		case "thetaM":
			return l.ThetaM, nil
		}
	case *Brush:
		switch name {
		case "thickness":
			return l.Thickness, nil
		case "rho":
			return l.PolymerRho, nil
		case "solvent_rho":
			return l.SolventRho, nil
		case "phi0":
			return l.Phi0, nil
		case "power":
			return l.Power, nil
		case "roughness":
			return l.Roughness, nil
		}
	}
	return nil, fmt.Errorf("layer %s has no parameter %q", layer.Name(), name)
}
