// Package config loads fit defaults from a JSON file. The schema
// mirrors the /api/fit/start request plus the data loading options, so
// the same JSON can seed a batch run and an API call.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FitConfig holds optional overrides for the fit defaults. Pointer
// fields distinguish "not set" from an explicit zero, so partial
// configs are safe.
type FitConfig struct {
	// Engine selection and evaluation pool
	Engine  *string `json:"engine,omitempty"`
	Workers *int    `json:"workers,omitempty"`

	// Differential evolution tuning
	PopSize        *int     `json:"pop_size,omitempty"`
	MaxGenerations *int     `json:"max_generations,omitempty"`
	F              *float64 `json:"f,omitempty"`
	CR             *float64 `json:"cr,omitempty"`
	FTol           *float64 `json:"ftol,omitempty"`

	// Model and data loading
	DZ         *float64 `json:"dz,omitempty"`
	DRFraction *float64 `json:"dr_fraction,omitempty"`
	DQFraction *float64 `json:"dq_fraction,omitempty"`
	QUnits     *string  `json:"q_units,omitempty"`

	// Plotting
	View *string `json:"view,omitempty"`
}

// EmptyFitConfig returns a FitConfig with all fields unset. Every Get*
// method then falls back to its default.
func EmptyFitConfig() *FitConfig {
	return &FitConfig{}
}

// LoadFitConfig loads a FitConfig from a JSON file. The file must have
// a .json extension and stay under the size cap. Fields omitted from
// the JSON keep their defaults.
func LoadFitConfig(path string) (*FitConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyFitConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *FitConfig) Validate() error {
	if c.Engine != nil {
		switch *c.Engine {
		case "de", "lm", "de+lm":
		default:
			return fmt.Errorf("engine must be de, lm, or de+lm, got %q", *c.Engine)
		}
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.PopSize != nil && *c.PopSize < 0 {
		return fmt.Errorf("pop_size must be non-negative, got %d", *c.PopSize)
	}
	if c.MaxGenerations != nil && *c.MaxGenerations < 0 {
		return fmt.Errorf("max_generations must be non-negative, got %d", *c.MaxGenerations)
	}
	if c.F != nil && (*c.F <= 0 || *c.F > 2) {
		return fmt.Errorf("f must be in (0, 2], got %f", *c.F)
	}
	if c.CR != nil && (*c.CR < 0 || *c.CR > 1) {
		return fmt.Errorf("cr must be between 0 and 1, got %f", *c.CR)
	}
	if c.FTol != nil && *c.FTol <= 0 {
		return fmt.Errorf("ftol must be positive, got %g", *c.FTol)
	}
	if c.DZ != nil && *c.DZ <= 0 {
		return fmt.Errorf("dz must be positive, got %f", *c.DZ)
	}
	if c.DRFraction != nil && (*c.DRFraction < 0 || *c.DRFraction >= 1) {
		return fmt.Errorf("dr_fraction must be in [0, 1), got %f", *c.DRFraction)
	}
	if c.DQFraction != nil && (*c.DQFraction < 0 || *c.DQFraction >= 1) {
		return fmt.Errorf("dq_fraction must be in [0, 1), got %f", *c.DQFraction)
	}
	if c.QUnits != nil {
		switch *c.QUnits {
		case "", "1/A", "1/nm":
		default:
			return fmt.Errorf("q_units must be 1/A or 1/nm, got %q", *c.QUnits)
		}
	}
	if c.View != nil {
		switch *c.View {
		case "linear", "log", "fresnel", "q4":
		default:
			return fmt.Errorf("view must be linear, log, fresnel, or q4, got %q", *c.View)
		}
	}
	return nil
}

// GetEngine returns the engine or the default de+lm pipeline.
func (c *FitConfig) GetEngine() string {
	if c.Engine == nil {
		return "de+lm"
	}
	return *c.Engine
}

// GetWorkers returns the pool size. Zero means one worker per CPU.
func (c *FitConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetPopSize returns the DE population size. Zero lets the engine
// scale it with the parameter count.
func (c *FitConfig) GetPopSize() int {
	if c.PopSize == nil {
		return 0
	}
	return *c.PopSize
}

// GetMaxGenerations returns the DE generation limit. Zero takes the
// engine default.
func (c *FitConfig) GetMaxGenerations() int {
	if c.MaxGenerations == nil {
		return 0
	}
	return *c.MaxGenerations
}

// GetF returns the differential weight or the default.
func (c *FitConfig) GetF() float64 {
	if c.F == nil {
		return 0.8
	}
	return *c.F
}

// GetCR returns the crossover probability or the default.
func (c *FitConfig) GetCR() float64 {
	if c.CR == nil {
		return 0.9
	}
	return *c.CR
}

// GetFTol returns the convergence tolerance or the default.
func (c *FitConfig) GetFTol() float64 {
	if c.FTol == nil {
		return 1e-8
	}
	return *c.FTol
}

// GetDZ returns the microslab width in A or the default.
func (c *FitConfig) GetDZ() float64 {
	if c.DZ == nil {
		return 0.5
	}
	return *c.DZ
}

// GetDRFraction returns the assumed dR/R for files without an
// uncertainty column. Zero leaves such files an error.
func (c *FitConfig) GetDRFraction() float64 {
	if c.DRFraction == nil {
		return 0
	}
	return *c.DRFraction
}

// GetDQFraction returns the assumed dQ/Q for files without a
// resolution column.
func (c *FitConfig) GetDQFraction() float64 {
	if c.DQFraction == nil {
		return 0
	}
	return *c.DQFraction
}

// GetQUnits returns the declared Q units, empty for autodetect.
func (c *FitConfig) GetQUnits() string {
	if c.QUnits == nil {
		return ""
	}
	return *c.QUnits
}

// GetView returns the reflectivity plot view or the default.
func (c *FitConfig) GetView() string {
	if c.View == nil {
		return "log"
	}
	return *c.View
}
