package train

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/policy"
)

// Checkpoint bundles everything needed to resume a run at the next
// iteration with a freshly-zeroed rollout buffer. Buffer contents are
// deliberately not persisted.
type Checkpoint struct {
	RunID     string
	Iteration int
	Params    map[string][]float64
	Optimizer policy.AdamState
}

// SaveCheckpoint writes the bundle atomically (temp file + rename).
func SaveCheckpoint(path string, pol policy.Trainable, adam *policy.Adam, iteration int, runID string) error {
	ck := Checkpoint{
		RunID:     runID,
		Iteration: iteration,
		Params:    make(map[string][]float64),
		Optimizer: adam.Export(),
	}
	for _, p := range pol.Params() {
		w := make([]float64, len(p.W))
		copy(w, p.W)
		ck.Params[p.Name] = w
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("creating checkpoint file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(ck); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing checkpoint file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint restores policy parameters and optimizer state. Any shape
// mismatch against the current architecture fails before a single parameter
// is touched; a checkpoint is never partially applied.
func LoadCheckpoint(path string, pol policy.Trainable, adam *policy.Adam) (iteration int, runID string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("opening checkpoint: %w", err)
	}
	defer f.Close()

	var ck Checkpoint
	if err := gob.NewDecoder(f).Decode(&ck); err != nil {
		return 0, "", fmt.Errorf("decoding checkpoint: %w", err)
	}

	for _, p := range pol.Params() {
		loaded, ok := ck.Params[p.Name]
		if !ok {
			return 0, "", fmt.Errorf("checkpoint missing parameter %q", p.Name)
		}
		if len(loaded) != len(p.W) {
			return 0, "", fmt.Errorf("checkpoint parameter %q has %d values, want %d", p.Name, len(loaded), len(p.W))
		}
	}
	if err := adam.Import(ck.Optimizer); err != nil {
		return 0, "", fmt.Errorf("restoring optimizer state: %w", err)
	}
	for _, p := range pol.Params() {
		copy(p.W, ck.Params[p.Name])
	}
	return ck.Iteration, ck.RunID, nil
}
