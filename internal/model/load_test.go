package model

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleModel = `{
	"name": "gold on silicon",
	"radiation": "neutron",
	"materials": {
		"gold": {"formula": "Au", "density": 19.3},
		"oxide": {"formula": "SiO2", "density": 2.2},
		"silicon": {"formula": "Si", "density": 2.33},
		"solvent": {"rho": 5.2},
		"sm4": {"mix": ["solvent", "oxide"], "fractions": [0.8, 0.2]}
	},
	"layers": [
		{"material": "air"},
		{"type": "slab", "material": "gold", "thickness": 120, "roughness": 5,
		 "fit": {"thickness": [50, 200], "rho": [4, 5], "roughness": [0, 15]}},
		{"type": "slab", "material": "oxide", "thickness": 15, "roughness": 3},
		{"material": "silicon", "roughness": 2}
	]
}`

func writeModel(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadModel(t *testing.T) {
	stack, err := LoadModel(writeModel(t, sampleModel))
	if err != nil {
		t.Fatal(err)
	}
	if len(stack.Layers) != 4 {
		t.Fatalf("layer count = %d, want 4", len(stack.Layers))
	}
	if stack.Name != "gold on silicon" {
		t.Errorf("name = %q", stack.Name)
	}

	free := stack.FreeParameters()
	if len(free) != 3 {
		t.Fatalf("free parameter count = %d, want 3", len(free))
	}

	gold := stack.Layers[1].(*Slab)
	if gold.Thickness.Value() != 120 {
		t.Errorf("gold thickness = %v", gold.Thickness.Value())
	}
	lo, hi := gold.Thickness.Bounds.Limits()
	if lo != 50 || hi != 200 {
		t.Errorf("gold thickness bounds = (%v,%v)", lo, hi)
	}

	// formula materials produce computed SLDs
	si := stack.Layers[3].(*Slab)
	if rho := si.Rho.Value(); rho < 2.0 || rho > 2.2 {
		t.Errorf("silicon rho = %v, want about 2.07", rho)
	}
}

func TestLoadModelErrors(t *testing.T) {
	testCases := []struct {
		name string
		text string
	}{
		{"too_few_layers", `{"name":"x","layers":[{"material":"air"}]}`},
		{"unknown_material", `{"name":"x","layers":[{"material":"air"},{"material":"unobtainium"}]}`},
		{"unknown_radiation", `{"name":"x","radiation":"muon","layers":[{"material":"air"},{"material":"air"}]}`},
		{"bad_material_spec", `{"name":"x","materials":{"m":{}},"layers":[{"material":"air"},{"material":"m"}]}`},
		{"unknown_layer_type", `{"name":"x","layers":[{"material":"air"},{"type":"wedge","material":"air"}]}`},
		{"unknown_fit_param", `{"name":"x","layers":[{"material":"air"},{"material":"air","fit":{"wibble":[0,1]}}]}`},
		{"bad_mixture_ref", `{"name":"x","materials":{"m":{"mix":["nope"],"fractions":[1]}},"layers":[{"material":"air"},{"material":"m"}]}`},
		{"not_json", `{{{`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadModel(writeModel(t, tc.text)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadModelMissingFile(t *testing.T) {
	if _, err := LoadModel(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestBrushLayerFromModelFile(t *testing.T) {
	text := `{
		"name": "brush",
		"materials": {
			"PS": {"formula": "C8H8", "density": 1.05},
			"d2o": {"formula": "D2O", "density": 1.105}
		},
		"layers": [
			{"material": "d2o"},
			{"type": "brush", "material": "PS", "solvent": "d2o",
			 "thickness": 300, "phi0": 0.25, "roughness": 5,
			 "fit": {"thickness": [100, 600], "phi0": [0.05, 0.6]}},
			{"material": "PS", "roughness": 4}
		]
	}`
	stack, err := LoadModel(writeModel(t, text))
	if err != nil {
		t.Fatal(err)
	}
	brush, ok := stack.Layers[1].(*Brush)
	if !ok {
		t.Fatalf("layer 1 is %T, want *Brush", stack.Layers[1])
	}
	if brush.Power.Value() != 1 {
		t.Errorf("default power = %v, want 1", brush.Power.Value())
	}
	if len(stack.FreeParameters()) != 2 {
		t.Errorf("free parameters = %d, want 2", len(stack.FreeParameters()))
	}
}
