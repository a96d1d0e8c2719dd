package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotInstalled       = errors.New("package not installed")
	ErrDependencyNotFound = errors.New("dependency not found")
	ErrCorrupt            = errors.New("corrupt registry entry")
)

// One or more dependencies that could not be resolved.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDependencyNotFound, strings.Join(e.Names, ", "))
}

func (e *MissingError) Unwrap() error { return ErrDependencyNotFound }
