package fit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Checkpoint is the resumable state of a population run, written as
// JSON so an interrupted fit can pick up where it stopped.
type Checkpoint struct {
	Engine     string      `json:"engine"`
	Model      string      `json:"model"`
	Names      []string    `json:"names"`
	Generation int         `json:"generation"`
	Best       []float64   `json:"best"`
	BestValue  float64     `json:"best_value"`
	Population [][]float64 `json:"population"`
	Values     []float64   `json:"values"`
	Seed       int64       `json:"seed"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// SaveCheckpoint writes the checkpoint atomically, via a temp file and
// rename, so a crash mid-write never leaves a truncated file behind.
func SaveCheckpoint(path string, cp *Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.json")
	if err != nil {
		return fmt.Errorf("creating checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing checkpoint %s: %w", path, err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", path, err)
	}
	if len(cp.Population) != len(cp.Values) {
		return nil, fmt.Errorf("checkpoint %s: %d population members but %d values",
			path, len(cp.Population), len(cp.Values))
	}
	for i, x := range cp.Population {
		if len(x) != len(cp.Names) {
			return nil, fmt.Errorf("checkpoint %s: member %d has %d values for %d parameters",
				path, i, len(x), len(cp.Names))
		}
	}
	return &cp, nil
}

// Compatible reports whether the checkpoint can seed a run over the
// given model and parameter names. An empty model name on either side
// skips the name check, for checkpoints written before labelling.
func (cp *Checkpoint) Compatible(model string, names []string) error {
	if cp.Model != "" && model != "" && cp.Model != model {
		return fmt.Errorf("checkpoint is for model %q, not %q", cp.Model, model)
	}
	if len(cp.Names) != len(names) {
		return fmt.Errorf("checkpoint has %d parameters, model has %d", len(cp.Names), len(names))
	}
	for i, n := range names {
		if cp.Names[i] != n {
			return fmt.Errorf("checkpoint parameter %d is %q, model has %q", i, cp.Names[i], n)
		}
	}
	return nil
}
