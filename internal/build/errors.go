package build

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrBuildStepFailed     = errors.New("build step failed")
	ErrInstallPathConflict = errors.New("install path conflict")
	ErrTestAssertionFailed = errors.New("test assertion failed")
	ErrTimeout             = errors.New("step timed out")
	ErrInstall             = errors.New("install failed")
	ErrFileSystemOperation = errors.New("file system operation failed")
	ErrIllegalTransition   = errors.New("illegal state transition")
)

// Lines of command output quoted in error messages.
const errorOutputLines = 10

// A run step exited non-zero or could not be started.
type StepError struct {
	Index    int      // Position of the step in the recipe's install list, from 0.
	Command  []string // Expanded argv.
	ExitCode int      // -1 when the command never ran.
	Output   string   // Combined stdout and stderr.
	Err      error    // Why the command could not be started, if it was not.
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: step %d (%s): %v", ErrBuildStepFailed, e.Index, strings.Join(e.Command, " "), e.Err)
	}
	return fmt.Sprintf("%s: step %d (%s) exited with code %d%s",
		ErrBuildStepFailed, e.Index, strings.Join(e.Command, " "), e.ExitCode, quoteTail(e.Output))
}

func (e *StepError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrBuildStepFailed, e.Err}
	}
	return []error{ErrBuildStepFailed}
}

// A step or test command ran past the configured limit and was killed.
type TimeoutError struct {
	Index   int
	Command []string
	Limit   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: step %d (%s) exceeded %s", ErrTimeout, e.Index, strings.Join(e.Command, " "), e.Limit)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// An install target already exists and is not owned by the package being
// installed.
type ConflictError struct {
	Path  string // Target relative to the prefix.
	Owner string // Owning package, empty for a file no package owns.
}

func (e *ConflictError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("%s: %s exists and is not managed by keg", ErrInstallPathConflict, e.Path)
	}
	return fmt.Sprintf("%s: %s is owned by %s", ErrInstallPathConflict, e.Path, e.Owner)
}

func (e *ConflictError) Unwrap() error { return ErrInstallPathConflict }

// A smoke test exited with an unexpected status, its output did not contain
// the expected text, or its command failed to run.
type AssertionError struct {
	Index    int
	Command  []string
	Expected string
	Actual   string
	ExitCode int
	Status   int // Expected exit status.
}

func (e *AssertionError) Error() string {
	if e.ExitCode != e.Status {
		return fmt.Sprintf("%s: test %d (%s): exited with code %d, want %d%s",
			ErrTestAssertionFailed, e.Index, strings.Join(e.Command, " "), e.ExitCode, e.Status, quoteTail(e.Actual))
	}
	return fmt.Sprintf("%s: test %d (%s): expected output containing %q%s",
		ErrTestAssertionFailed, e.Index, strings.Join(e.Command, " "), e.Expected, quoteTail(e.Actual))
}

func (e *AssertionError) Unwrap() error { return ErrTestAssertionFailed }

// Formats the last lines of output for an error message.
func quoteTail(output string) string {
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return ""
	}
	lines := strings.Split(output, "\n")
	if len(lines) > errorOutputLines {
		lines = lines[len(lines)-errorOutputLines:]
	}
	return "\n\t" + strings.Join(lines, "\n\t")
}
