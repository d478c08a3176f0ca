package material

import (
	"math"
	"testing"
)

func TestParseFormula(t *testing.T) {
	testCases := []struct {
		name      string
		formula   string
		atoms     map[string]float64
		expectErr bool
	}{
		{"simple_oxide", "SiO2", map[string]float64{"Si": 1, "O": 2}, false},
		{"boron_carbide", "B4C", map[string]float64{"B": 4, "C": 1}, false},
		{"heavy_water", "D2O", map[string]float64{"D": 2, "O": 1}, false},
		{"fractional", "Si0.5Ge0.5", map[string]float64{"Si": 0.5, "Ge": 0.5}, false},
		{"parenthesised", "(C2H4)3", map[string]float64{"C": 6, "H": 12}, false},
		{"repeated_symbol", "CH3CH2OH", map[string]float64{"C": 2, "H": 6, "O": 1}, false},
		{"empty", "", nil, true},
		{"unknown_element", "Xx2", nil, true},
		{"unbalanced_paren", "(SiO2", nil, true},
		{"stray_character", "Si-O", nil, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := ParseFormula(tc.formula)
			if tc.expectErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.formula)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(f.Atoms) != len(tc.atoms) {
				t.Fatalf("atom count = %d, want %d", len(f.Atoms), len(tc.atoms))
			}
			for _, ac := range f.Atoms {
				want, ok := tc.atoms[ac.Element.Symbol]
				if !ok {
					t.Errorf("unexpected element %q", ac.Element.Symbol)
					continue
				}
				if math.Abs(ac.Count-want) > 1e-12 {
					t.Errorf("%s count = %v, want %v", ac.Element.Symbol, ac.Count, want)
				}
			}
		})
	}
}

func TestNeutronSLDKnownValues(t *testing.T) {
	// Reference values from the NIST SLD calculator, to ~1% tolerance.
	testCases := []struct {
		formula string
		density float64
		rho     float64
	}{
		{"Si", 2.33, 2.073},
		{"SiO2", 2.2, 3.47},
		{"D2O", 1.105, 6.37},
		{"H2O", 1.0, -0.56},
		{"Ni", 8.9, 9.41},
	}

	for _, tc := range testCases {
		t.Run(tc.formula, func(t *testing.T) {
			f, err := ParseFormula(tc.formula)
			if err != nil {
				t.Fatal(err)
			}
			rho, _ := f.NeutronSLD(tc.density)
			if math.Abs(rho-tc.rho)/math.Abs(tc.rho) > 0.01 {
				t.Errorf("SLD(%s, %g) = %.4f, want %.4f", tc.formula, tc.density, rho, tc.rho)
			}
		})
	}
}

func TestXraySLDSilicon(t *testing.T) {
	f, err := ParseFormula("Si")
	if err != nil {
		t.Fatal(err)
	}
	// r_e * electron density for Si: about 19.7e-6/A^2 away from edges.
	rho := f.XraySLD(2.33)
	if math.Abs(rho-19.7)/19.7 > 0.02 {
		t.Errorf("X-ray SLD(Si) = %.3f, want about 19.7", rho)
	}
}

func TestGadoliniumAbsorption(t *testing.T) {
	f, err := ParseFormula("Gd")
	if err != nil {
		t.Fatal(err)
	}
	_, irho := f.NeutronSLD(7.9)
	if irho <= 0 {
		t.Errorf("Gd imaginary SLD = %v, want positive", irho)
	}
}

func TestCompound(t *testing.T) {
	c, err := NewCompound("SiO2", 2.2, Neutron)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "SiO2" {
		t.Errorf("Name = %q", c.Name())
	}
	rho, irho := c.SLD()
	if rho < 3.0 || rho > 4.0 {
		t.Errorf("rho = %v, want about 3.47", rho)
	}
	if irho != 0 {
		t.Errorf("irho = %v, want 0", irho)
	}

	if _, err := NewCompound("SiO2", -1, Neutron); err == nil {
		t.Error("expected error for negative density")
	}
	if _, err := NewCompound("Zz", 1, Neutron); err == nil {
		t.Error("expected error for unknown element")
	}
}

func TestMixture(t *testing.T) {
	d2o := SLD{Label: "D2O", Rho: 6.37}
	h2o := SLD{Label: "H2O", Rho: -0.56}

	m, err := NewMixture("sm4", []Material{d2o, h2o}, []float64{0.66, 0.34})
	if err != nil {
		t.Fatal(err)
	}
	rho, _ := m.SLD()
	want := 0.66*6.37 + 0.34*-0.56
	if math.Abs(rho-want) > 1e-9 {
		t.Errorf("mixture rho = %v, want %v", rho, want)
	}

	// Ratios normalise the same as fractions.
	m2, err := NewMixture("sm4", []Material{d2o, h2o}, []float64{66, 34})
	if err != nil {
		t.Fatal(err)
	}
	rho2, _ := m2.SLD()
	if math.Abs(rho2-want) > 1e-9 {
		t.Errorf("ratio mixture rho = %v, want %v", rho2, want)
	}

	if _, err := NewMixture("bad", []Material{d2o}, []float64{1, 2}); err == nil {
		t.Error("expected error for mismatched lengths")
	}
	if _, err := NewMixture("bad", []Material{d2o, h2o}, []float64{0, 0}); err == nil {
		t.Error("expected error for zero fractions")
	}
}

func TestVacuum(t *testing.T) {
	rho, irho := Vacuum.SLD()
	if rho != 0 || irho != 0 {
		t.Errorf("vacuum SLD = (%v, %v), want (0, 0)", rho, irho)
	}
}
