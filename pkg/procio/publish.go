package procio

import (
	"fmt"
	"os"
	"path/filepath"
)

// PublishAtomic writes content to path by first writing to a temporary file
// in the same directory, then renaming it into place, so a concurrent
// reader (or a crash mid-write) never observes a partially written
// annotation file. This is the atomic-publish contract every
// pkg/schedule.Executor implementation is expected to route its output
// through, per §5's ordering guarantees.
func PublishAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("procio: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("procio: create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("procio: write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("procio: sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("procio: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("procio: rename %s to %s: %w", tmpPath, path, err)
	}
	return nil
}

// ReadAnnotation reads an annotation file's full contents. It exists
// alongside PublishAtomic so the read/write contract for annotation span
// and attribute files lives in one place rather than being reimplemented
// per processor.
func ReadAnnotation(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("procio: read %s: %w", path, err)
	}
	return data, nil
}

// WriteAnnotation is PublishAtomic under the name processors reach for when
// writing an annotation span/attribute file specifically.
func WriteAnnotation(path string, content []byte) error {
	return PublishAtomic(path, content)
}
