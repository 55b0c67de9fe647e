package fund

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"ReversionBot/internal/model"
)

// LoadState reads the equity state from a JSON file. ok is false if the file doesn't exist.
func LoadState(filePath string) (state model.EquityState, ok bool, err error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return model.EquityState{}, false, nil
		}
		return model.EquityState{}, false, err
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return model.EquityState{}, false, fmt.Errorf("decode equity state: %w", err)
	}
	return state, true, nil
}

// SaveState writes the equity state to a JSON file, replacing it atomically.
func SaveState(filePath string, state model.EquityState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(filePath, data)
}

// WriteFileAtomic writes data to a temp file in the same directory and renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
