package pdfrenderer

import (
	"os/exec"
	"path/filepath"
	"runtime"
)

// Poppler executables driven by this package
const (
	ToolPdfinfo    = "pdfinfo"
	ToolPdftoppm   = "pdftoppm"
	ToolPdftocairo = "pdftocairo"
	ToolPdftotext  = "pdftotext"
)

// AllTools lists every executable the renderer may spawn
var AllTools = []string{ToolPdfinfo, ToolPdftoppm, ToolPdftocairo, ToolPdftotext}

// Tools locates the poppler executables. An empty Dir means the executable
// search path is used.
type Tools struct {
	Dir string
}

// Path returns the executable path (or bare name) for a tool
func (t Tools) Path(tool string) string {
	name := tool
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if t.Dir == "" {
		return name
	}
	return filepath.Join(t.Dir, name)
}

// Available reports whether the tool can be resolved to an executable
func (t Tools) Available(tool string) bool {
	_, err := exec.LookPath(t.Path(tool))
	return err == nil
}

// Missing returns the tools that cannot be resolved
func (t Tools) Missing() []string {
	var missing []string
	for _, tool := range AllTools {
		if !t.Available(tool) {
			missing = append(missing, tool)
		}
	}
	return missing
}
