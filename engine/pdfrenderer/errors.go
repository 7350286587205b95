package pdfrenderer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPageRange is matched by every InvalidPageRangeError
	ErrInvalidPageRange = errors.New("invalid page range")
	// ErrPageOutOfBounds is matched by every PageOutOfBoundsError
	ErrPageOutOfBounds = errors.New("page out of bounds")
	// ErrNoPasswordForEncryptedPDF is returned when an encrypted document is rendered without a password
	ErrNoPasswordForEncryptedPDF = errors.New("pdf is encrypted and no password was provided")
	// ErrUnsupportedOption is returned when the selected backend cannot honour a render option
	ErrUnsupportedOption = errors.New("option not supported by backend")
)

// ToolNotFoundError means the executable could not be spawned at all.
type ToolNotFoundError struct {
	Path string
	Err  error
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s: %v", e.Path, e.Err)
}

func (e *ToolNotFoundError) Unwrap() error { return e.Err }

// ToolExecutionError is returned when a tool ran but exited non-zero.
// Stderr carries the tool's diagnostic output verbatim.
type ToolExecutionError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ToolExecutionError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.ExitCode, msg)
}

// InvalidPageRangeError is a caller error raised before any process is spawned.
type InvalidPageRangeError struct {
	First int
	Last  int
}

func (e *InvalidPageRangeError) Error() string {
	return fmt.Sprintf("invalid page range %d-%d", e.First, e.Last)
}

func (e *InvalidPageRangeError) Is(target error) bool { return target == ErrInvalidPageRange }

// PageOutOfBoundsError reports a page outside [1, PageCount].
type PageOutOfBoundsError struct {
	Page      int
	PageCount int
}

func (e *PageOutOfBoundsError) Error() string {
	return fmt.Sprintf("page %d out of bounds (document has %d pages)", e.Page, e.PageCount)
}

func (e *PageOutOfBoundsError) Is(target error) bool { return target == ErrPageOutOfBounds }

// InfoParseError keeps the raw pdfinfo output for diagnosis.
type InfoParseError struct {
	Field  string
	Output string
}

func (e *InfoParseError) Error() string {
	return fmt.Sprintf("unable to parse %q from pdfinfo output", e.Field)
}

// ImageDecodeError means a tool produced bytes the image decoder rejected.
type ImageDecodeError struct {
	Page int
	Err  error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("unable to decode image for page %d: %v", e.Page, e.Err)
}

func (e *ImageDecodeError) Unwrap() error { return e.Err }
