package reset

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotDirectory is wrapped by MissingTemplateError when the template path is a file.
var ErrNotDirectory = errors.New("not a directory")

// UnloadError reports that the active environment could not be unloaded.
type UnloadError struct {
	Name string
	Err  error
}

func (e *UnloadError) Error() string {
	return fmt.Sprintf("failed to unload %s: %v", e.Name, e.Err)
}

func (e *UnloadError) Unwrap() error { return e.Err }

// MissingTemplateError reports that the template dataset does not exist.
type MissingTemplateError struct {
	Template string
	Path     string
	Err      error
}

func (e *MissingTemplateError) Error() string {
	return fmt.Sprintf("template %s does not exist at %s", e.Template, e.Path)
}

func (e *MissingTemplateError) Unwrap() error { return e.Err }

// CopyError reports an I/O failure while deleting or copying dataset files.
type CopyError struct {
	Op   string
	Path string
	Err  error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }

// LoadError reports that the active environment could not be loaded afterwards.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// StageTimeoutError reports that a background stage exceeded the configured limit.
type StageTimeoutError struct {
	Stage   string
	Timeout time.Duration
	Err     error
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out after %s", e.Stage, e.Timeout)
}

func (e *StageTimeoutError) Unwrap() error { return e.Err }
