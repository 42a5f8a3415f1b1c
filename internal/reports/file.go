package reports

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileDestination appends batches to a local JSONL file.
type FileDestination struct {
	path string
}

// NewFileDestination returns a destination appending to path. Parent
// directories are created on first write.
func NewFileDestination(path string) *FileDestination {
	return &FileDestination{path: path}
}

func (d *FileDestination) Write(_ context.Context, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open report file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("append report file: %w", err)
	}
	return f.Close()
}
