package es

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	pkgerrors "github.com/evostrat/evostrat/pkg/errors"
)

const checkpointPermissions = 0o644

// Checkpoint is a snapshot of the committed optimization state, sufficient
// to resume the parameter store and optimizer exactly at their last
// committed generation.
type Checkpoint struct {
	Generation uint64         `json:"generation"`
	Weights    []float64      `json:"weights"`
	Optimizer  OptimizerState `json:"optimizer"`
	Stats      Stats          `json:"stats"`
	SavedAt    time.Time      `json:"saved_at"`
}

func (cp Checkpoint) Validate() error {
	if len(cp.Weights) == 0 {
		return errors.Join(pkgerrors.ErrCorruptState, errors.New("checkpoint has an empty parameter vector"))
	}
	if len(cp.Optimizer.M) > 0 && len(cp.Optimizer.M) != len(cp.Weights) {
		return errors.Join(pkgerrors.ErrCorruptState, fmt.Errorf("optimizer first-moment dimensionality %d does not match parameter dimensionality %d", len(cp.Optimizer.M), len(cp.Weights)))
	}
	if len(cp.Optimizer.V) > 0 && len(cp.Optimizer.V) != len(cp.Weights) {
		return errors.Join(pkgerrors.ErrCorruptState, fmt.Errorf("optimizer second-moment dimensionality %d does not match parameter dimensionality %d", len(cp.Optimizer.V), len(cp.Weights)))
	}

	return nil
}

// SaveCheckpoint writes the snapshot as checkpoint_<generation>.json under
// dir, via a temporary file and rename so a crashed write never leaves a
// half-written checkpoint behind.
func SaveCheckpoint(dir string, cp Checkpoint) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	cp.SavedAt = time.Now().UTC()
	data, err := json.Marshal(cp)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("checkpoint_%08d.json", cp.Generation))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, checkpointPermissions); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}

	return path, nil
}

// LatestCheckpoint loads the highest-generation checkpoint in dir. A missing
// directory or an empty one yields ErrNotFound; an unreadable or invalid
// checkpoint yields ErrCorruptState — there is no automatic recovery from
// corrupted optimization state.
func LatestCheckpoint(dir string) (Checkpoint, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "checkpoint_*.json"))
	if err != nil {
		return Checkpoint{}, err
	}
	if len(matches) == 0 {
		return Checkpoint{}, pkgerrors.ErrNotFound
	}

	sort.Strings(matches)
	path := matches[len(matches)-1]

	data, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, errors.Join(pkgerrors.ErrCorruptState, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, errors.Join(pkgerrors.ErrCorruptState, err)
	}
	if err := cp.Validate(); err != nil {
		return Checkpoint{}, err
	}

	return cp, nil
}
