package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ReadJSONFile unmarshals filePath into out. A missing file is not an
// error; out is left untouched and ok is false.
func ReadJSONFile(filePath string, out any) (ok bool, err error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", filePath, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("parse %s: %w", filePath, err)
	}
	return true, nil
}

// WriteJSONFile writes value as indented JSON, creating parent
// directories as needed.
func WriteJSONFile(filePath string, value any) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", filePath, err)
	}
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filePath, err)
	}
	return os.WriteFile(filePath, append(raw, '\n'), 0o644)
}

// AppendJSONLine appends value to a JSONL file, creating parent
// directories as needed.
func AppendJSONLine(filePath string, value any) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", filePath, err)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(raw, '\n'))
	return err
}

// ResolvePath joins target onto root unless target is already absolute.
// An empty target falls back to the default, joined the same way.
func ResolvePath(root, target, fallback string) string {
	if target == "" {
		target = fallback
	}
	if filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(root, target)
}
