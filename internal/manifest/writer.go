package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// New creates an image record with defaults filled in.
func New(hash, sourcePath, profileName string) *Image {
	return &Image{
		Version:     SupportedVersion,
		Hash:        hash,
		SourcePath:  sourcePath,
		Name:        filepath.Base(sourcePath),
		Profile:     profileName,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// WriteJSON serializes the record to path. The file is written to a
// temporary sibling first and renamed into place, so readers never
// observe a half-written record.
func WriteJSON(m *Image, path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// ReadJSON loads a record written by WriteJSON.
func ReadJSON(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Image
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &m, nil
}
