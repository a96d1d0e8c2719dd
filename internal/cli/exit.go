package cli

import (
	"errors"

	"github.com/alecthomas/kong"
	"github.com/cruciblehq/keg/internal/build"
	"github.com/cruciblehq/keg/internal/protocol"
	"github.com/cruciblehq/keg/internal/registry"
	"github.com/cruciblehq/keg/internal/source"
)

// Process exit statuses.
const (
	ExitOK       = 0
	ExitUsage    = 1
	ExitFetch    = 2
	ExitChecksum = 3
	ExitBuild    = 4
	ExitInstall  = 5
	ExitTest     = 6
)

var outcomeCodes = map[build.Outcome]int{
	build.OutcomeSuccess:           ExitOK,
	build.OutcomeFetchFailed:       ExitFetch,
	build.OutcomeChecksumMismatch:  ExitChecksum,
	build.OutcomeDependencyMissing: ExitBuild,
	build.OutcomeBuildFailed:       ExitBuild,
	build.OutcomeTimeout:           ExitBuild,
	build.OutcomeInstallFailed:     ExitInstall,
	build.OutcomeTestFailed:        ExitTest,
}

// Command line could not be parsed.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// An execution ended with a failure outcome.
type outcomeError struct {
	outcome build.Outcome
	err     error
}

func (e *outcomeError) Error() string { return e.err.Error() }
func (e *outcomeError) Unwrap() error { return e.err }

// Returns the error for the first failed result, or nil when every result
// succeeded. The error still joins all failures.
func resultsError(results []*build.Result, err error) error {
	for _, res := range results {
		if res != nil && res.Outcome != build.OutcomeSuccess {
			return &outcomeError{outcome: res.Outcome, err: err}
		}
	}
	return err
}

// Maps an error returned by [Execute] to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var oe *outcomeError
	if errors.As(err, &oe) {
		return outcomeCodes[oe.outcome]
	}
	var re *protocol.RemoteError
	if errors.As(err, &re) && re.Outcome != "" {
		return outcomeCodes[re.Outcome]
	}

	var ue *usageError
	var pe *kong.ParseError
	switch {
	case errors.As(err, &ue), errors.As(err, &pe):
		return ExitUsage
	case errors.Is(err, source.ErrChecksumMismatch):
		return ExitChecksum
	case errors.Is(err, source.ErrNetwork), errors.Is(err, source.ErrHTTP):
		return ExitFetch
	case errors.Is(err, registry.ErrDependencyNotFound),
		errors.Is(err, build.ErrBuildStepFailed),
		errors.Is(err, build.ErrTimeout),
		errors.Is(err, source.ErrExtract):
		return ExitBuild
	case errors.Is(err, build.ErrInstallPathConflict), errors.Is(err, build.ErrInstall):
		return ExitInstall
	case errors.Is(err, build.ErrTestAssertionFailed):
		return ExitTest
	}
	return ExitUsage
}
