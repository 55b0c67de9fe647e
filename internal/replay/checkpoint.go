package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"ReversionBot/internal/engine"
	"ReversionBot/internal/fund"
)

const checkpointVersion = 1

// Checkpoint is the resumable state of a replay run at a bar boundary.
type Checkpoint struct {
	Version int          `json:"version"`
	Source  string       `json:"source"`
	Seed    uint64       `json:"seed"`
	State   engine.State `json:"state"`
	SavedAt time.Time    `json:"saved_at"`
}

// SaveCheckpoint writes the checkpoint atomically.
func SaveCheckpoint(path string, cp Checkpoint) error {
	cp.Version = checkpointVersion
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := fund.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint. ok is false when the file does not exist.
func LoadCheckpoint(path string) (cp Checkpoint, ok bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.Version != checkpointVersion {
		return Checkpoint{}, false, fmt.Errorf("checkpoint version %d, want %d", cp.Version, checkpointVersion)
	}
	return cp, true, nil
}
