package model

import (
	"math"
	"testing"

	"github.com/igresh/refl1d/internal/material"
)

func nickelOnSilicon() *Stack {
	si := material.SLD{Label: "Si", Rho: 2.07}
	ni := material.SLD{Label: "Ni", Rho: 9.4}
	return &Stack{
		Name: "Ni film",
		Layers: []Layer{
			NewSlab("air", material.Vacuum, 0, 0),
			NewSlab("Ni", ni, 100, 5),
			NewSlab("Si", si, 0, 3),
		},
	}
}

func TestStackProfile(t *testing.T) {
	s := nickelOnSilicon()
	p := s.Profile(0.5)

	if len(p.Rho) != 3 {
		t.Fatalf("slab count = %d, want 3", len(p.Rho))
	}
	if len(p.Sigma) != 2 {
		t.Fatalf("interface count = %d, want 2", len(p.Sigma))
	}
	if p.Rho[0] != 0 || p.Rho[1] != 9.4 || p.Rho[2] != 2.07 {
		t.Errorf("rho = %v", p.Rho)
	}
	if p.Thickness[1] != 100 {
		t.Errorf("film thickness = %v", p.Thickness[1])
	}
	// sigma[0] is the air/Ni interface, owned by the Ni slab
	if p.Sigma[0] != 5 || p.Sigma[1] != 3 {
		t.Errorf("sigma = %v", p.Sigma)
	}
	if p.Magnetic() {
		t.Error("non-magnetic stack reports magnetic")
	}
}

func TestMagneticSlabProjection(t *testing.T) {
	fe := material.SLD{Label: "Fe", Rho: 8.02}
	slab := NewMagneticSlab("Fe", fe, 50, 2, 5.0, 60)
	p := &Profile{}
	slab.render(p, 0.5)

	want := 5.0 * math.Cos(60*math.Pi/180)
	if math.Abs(p.RhoM[0]-want) > 1e-12 {
		t.Errorf("rhoM = %v, want %v", p.RhoM[0], want)
	}
	if !p.Magnetic() {
		t.Error("magnetic slab not reported magnetic")
	}
}

func TestBrushProfile(t *testing.T) {
	polymer := material.SLD{Label: "PS", Rho: 1.41}
	solvent := material.SLD{Label: "D2O", Rho: 6.37}
	b := NewBrush("brush", polymer, solvent, 200, 0.4, 1, 4)

	p := &Profile{}
	b.render(p, 0.5)

	n := len(p.Rho)
	if n != 400 {
		t.Fatalf("microslab count = %d, want 400", n)
	}
	var total float64
	for _, d := range p.Thickness {
		total += d
	}
	if math.Abs(total-200) > 1e-9 {
		t.Errorf("total thickness = %v, want 200", total)
	}
	// dilute tail first: top slab is nearly pure solvent, bottom
	// approaches the dense grafting surface
	if math.Abs(p.Rho[0]-6.37) > 0.1 {
		t.Errorf("top slab rho = %v, want about solvent %v", p.Rho[0], 6.37)
	}
	bottom := p.Rho[n-1]
	densest := 0.4*1.41 + 0.6*6.37
	if math.Abs(bottom-densest) > 0.1 {
		t.Errorf("bottom slab rho = %v, want about %v", bottom, densest)
	}
	// parabolic shape at the default exponent: phi(L/2) = 0.75*phi0
	mid := 0.5 * (p.Rho[n/2-1] + p.Rho[n/2])
	wantMid := 0.3*1.41 + 0.7*6.37
	if math.Abs(mid-wantMid) > 0.05 {
		t.Errorf("midpoint rho = %v, want about %v", mid, wantMid)
	}
	// monotonic: rho decreases toward the substrate as polymer displaces solvent
	for i := 1; i < n; i++ {
		if p.Rho[i] > p.Rho[i-1]+1e-9 {
			t.Fatalf("profile not monotonic at slab %d: %v -> %v", i, p.Rho[i-1], p.Rho[i])
		}
	}
}

func TestFreeParameters(t *testing.T) {
	s := nickelOnSilicon()
	ni := s.Layers[1].(*Slab)
	ni.Thickness.Range(50, 200)
	ni.Rho.Range(8, 11)

	free := s.FreeParameters()
	if len(free) != 2 {
		t.Fatalf("free parameter count = %d, want 2", len(free))
	}
}

func TestTiedParametersExcludedFromFree(t *testing.T) {
	s := nickelOnSilicon()
	ni := s.Layers[1].(*Slab)
	si := s.Layers[2].(*Slab)
	ni.Roughness.Range(0, 20)
	si.Roughness.TieTo(ni.Roughness, 0.5)

	free := s.FreeParameters()
	if len(free) != 1 {
		t.Fatalf("free parameter count = %d, want 1", len(free))
	}
	ni.Roughness.SetValue(8)
	if got := si.Roughness.Value(); math.Abs(got-4) > 1e-12 {
		t.Errorf("tied value = %v, want 4", got)
	}
	// setting a tied parameter is a no-op
	si.Roughness.SetValue(99)
	if got := si.Roughness.Value(); math.Abs(got-4) > 1e-12 {
		t.Errorf("tied value after SetValue = %v, want 4", got)
	}
}

func TestStackClone(t *testing.T) {
	s := nickelOnSilicon()
	ni := s.Layers[1].(*Slab)
	si := s.Layers[2].(*Slab)
	ni.Thickness.Range(50, 200)
	si.Roughness.TieTo(ni.Roughness, 0.5)

	c := s.Clone()
	cni := c.Layers[1].(*Slab)
	csi := c.Layers[2].(*Slab)

	// values copied
	if cni.Thickness.Value() != 100 {
		t.Errorf("cloned thickness = %v", cni.Thickness.Value())
	}
	// independence: changing the clone leaves the original alone
	cni.Thickness.SetValue(150)
	if ni.Thickness.Value() != 100 {
		t.Errorf("original thickness changed to %v", ni.Thickness.Value())
	}
	// ties preserved inside the clone
	cni.Roughness.SetValue(10)
	if got := csi.Roughness.Value(); math.Abs(got-5) > 1e-12 {
		t.Errorf("cloned tie value = %v, want 5", got)
	}
	// and do not leak back
	if got := si.Roughness.Value(); math.Abs(got-2.5) > 1e-12 {
		t.Errorf("original tie value = %v, want 2.5", got)
	}

	if len(c.FreeParameters()) != len(s.FreeParameters()) {
		t.Errorf("free parameter counts differ after clone")
	}
}
