package build

import (
	"errors"
	"time"

	"github.com/cruciblehq/keg/internal/registry"
	"github.com/cruciblehq/keg/internal/source"
)

// How an execution ended.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeFetchFailed       Outcome = "fetch-failed"
	OutcomeChecksumMismatch  Outcome = "checksum-mismatch"
	OutcomeDependencyMissing Outcome = "dependency-missing"
	OutcomeBuildFailed       Outcome = "build-failed"
	OutcomeInstallFailed     Outcome = "install-failed"
	OutcomeTestFailed        Outcome = "test-failed"
	OutcomeTimeout           Outcome = "timeout"
)

// Outcomes in reporting order.
var Outcomes = []Outcome{
	OutcomeSuccess,
	OutcomeFetchFailed,
	OutcomeChecksumMismatch,
	OutcomeDependencyMissing,
	OutcomeBuildFailed,
	OutcomeInstallFailed,
	OutcomeTestFailed,
	OutcomeTimeout,
}

// One executed run step or test command.
type StepResult struct {
	Index    int           `json:"index"`
	Command  []string      `json:"command"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report of one recipe execution.
type Result struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Version  string             `json:"version"`
	Outcome  Outcome            `json:"outcome"`
	State    State              `json:"state"`
	Path     []State            `json:"path"`              // States visited, in order.
	Skipped  bool               `json:"skipped,omitempty"` // Already installed; nothing ran.
	Steps    []StepResult       `json:"steps,omitempty"`
	Tests    []StepResult       `json:"tests,omitempty"`
	Artifact *registry.Artifact `json:"artifact,omitempty"`
	BuildDir string             `json:"build_dir,omitempty"` // Kept build directory, if any.
	Err      error              `json:"-"`
	Error    string             `json:"error,omitempty"`
	Started  time.Time          `json:"started"`
	Duration time.Duration      `json:"duration"`
}

// Outcome a failure maps to when its error does not say more.
var stateOutcomes = map[State]Outcome{
	StatePending:    OutcomeDependencyMissing,
	StateFetching:   OutcomeFetchFailed,
	StateVerifying:  OutcomeChecksumMismatch,
	StateBuilding:   OutcomeBuildFailed,
	StateInstalling: OutcomeInstallFailed,
	StateTesting:    OutcomeTestFailed,
}

// Maps an execution error, and the state it occurred in, to an outcome.
func classify(err error, state State) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, source.ErrChecksumMismatch):
		return OutcomeChecksumMismatch
	case errors.Is(err, registry.ErrDependencyNotFound):
		return OutcomeDependencyMissing
	case errors.Is(err, source.ErrNetwork), errors.Is(err, source.ErrHTTP):
		return OutcomeFetchFailed
	case errors.Is(err, ErrBuildStepFailed), errors.Is(err, source.ErrExtract):
		return OutcomeBuildFailed
	case errors.Is(err, ErrInstallPathConflict), errors.Is(err, ErrInstall):
		return OutcomeInstallFailed
	case errors.Is(err, ErrTestAssertionFailed):
		return OutcomeTestFailed
	}
	if o, ok := stateOutcomes[state]; ok {
		return o
	}
	return OutcomeBuildFailed
}
