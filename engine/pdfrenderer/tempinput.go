package pdfrenderer

import (
	"fmt"
	"os"
	"path/filepath"
)

// TempPrefix starts the name of every temp directory this package creates
const TempPrefix = "pdf2image-"

// TempInput is a PDF materialized on disk for the duration of one call.
// The file is read-only for the tools that receive its path.
type TempInput struct {
	Dir  string
	Path string
}

// NewTempInput writes data to input.pdf inside a fresh directory under
// parent (os.TempDir when empty). Callers must Close it.
func NewTempInput(parent, callID string, data []byte) (*TempInput, error) {
	dir, err := os.MkdirTemp(parent, TempPrefix+callID+"-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to write PDF to temp file: %w", err)
	}
	return &TempInput{Dir: dir, Path: input}, nil
}

// Close removes the directory and everything in it
func (t *TempInput) Close() error {
	if t == nil || t.Dir == "" {
		return nil
	}
	err := os.RemoveAll(t.Dir)
	t.Dir = ""
	return err
}
