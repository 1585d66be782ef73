package runstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func Mkdir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// StreamWriter hands out a temp file to a producer and renames it into place
// on Commit. Abort discards it.
type StreamWriter struct {
	path string
	tmp  *os.File
}

func CreateStream(path string) (*StreamWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create parent for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, ".imgm-tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file for %s: %w", path, err)
	}
	return &StreamWriter{path: path, tmp: tmp}, nil
}

func (s *StreamWriter) Write(p []byte) (int, error) {
	return s.tmp.Write(p)
}

func (s *StreamWriter) Commit() error {
	tmpPath := s.tmp.Name()
	if err := s.tmp.Chmod(0o644); err != nil {
		_ = s.tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file for %s: %w", s.path, err)
	}
	if err := s.tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file for %s: %w", s.path, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomic rename for %s: %w", s.path, err)
	}
	return nil
}

func (s *StreamWriter) Abort() {
	_ = s.tmp.Close()
	_ = os.Remove(s.tmp.Name())
}

func WriteBytes(path string, data []byte) error {
	sw, err := CreateStream(path)
	if err != nil {
		return err
	}
	if _, err := sw.Write(data); err != nil {
		sw.Abort()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	return sw.Commit()
}

func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON for %s: %w", path, err)
	}
	data = append(data, '\n')
	return WriteBytes(path, data)
}

func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse JSON %s: %w", path, err)
	}
	return nil
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
