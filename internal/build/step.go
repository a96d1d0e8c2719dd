package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cruciblehq/keg/internal/recipe"
	"github.com/cruciblehq/keg/internal/runtime"
	securejoin "github.com/cyphar/filepath-securejoin"
)

// Runs the recipe's run steps in declared order inside the source tree.
//
// Install directives are skipped here; they are applied once every run step
// has succeeded. The first failing step aborts the build.
func (x *execution) build(ctx context.Context, runner runtime.Runner) error {
	state := newStepState()
	vars := recipe.VarsFor(x.recipe, x.e.cfg.Prefix, x.env.src)

	for i, step := range x.recipe.Install {
		switch step.Kind() {
		case recipe.StepModifier:
			state.apply(step)
		case recipe.StepRun:
			if err := x.runStep(ctx, runner, i, step, state.resolve(step), vars); err != nil {
				return err
			}
		}
	}
	return nil
}

// Runs a single step with its scoped modifiers.
func (x *execution) runStep(ctx context.Context, runner runtime.Runner, index int, step recipe.Step, resolved *stepState, vars recipe.Vars) error {
	dir := x.env.src
	if resolved.workdir != "" {
		var err error
		if dir, err = securejoin.SecureJoin(x.env.src, resolved.workdir); err != nil {
			return fmt.Errorf("%w: workdir %q: %w", ErrBuildStepFailed, resolved.workdir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
		}
	}

	cmd := runtime.Command{
		Program: vars.Expand([]string{step.Program})[0],
		Args:    vars.Expand(step.Args),
		Dir:     dir,
		Env:     append(x.baseEnv(), resolved.environ(vars)...),
		Path:    x.deps,
		Output:  x.e.cfg.Output,
	}

	slog.Debug("run", "recipe", x.recipe.Name, "step", index, "command", cmd.Argv(), "dir", dir)
	res, sr, err := x.e.execute(ctx, runner, index, cmd)
	if sr != nil {
		x.result.Steps = append(x.result.Steps, *sr)
	}
	if err != nil {
		var te *TimeoutError
		if errors.As(err, &te) || ctx.Err() != nil {
			return err
		}
		return &StepError{Index: index, Command: cmd.Argv(), ExitCode: -1, Err: err}
	}
	if res.ExitCode != 0 {
		return &StepError{Index: index, Command: cmd.Argv(), ExitCode: res.ExitCode, Output: res.Combined()}
	}
	return nil
}

// Variables every build step sees.
func (x *execution) baseEnv() []string {
	return []string{
		"HOME=" + x.env.root,
		"KEG_PREFIX=" + x.e.cfg.Prefix,
		"KEG_BUILDPATH=" + x.env.src,
	}
}

// Runs one command under the step timeout and records it.
//
// A command killed by the timeout returns a [*TimeoutError]. The step
// result is returned for every attempt except a cancelled one, including
// commands that could not be started.
func (e *Executor) execute(ctx context.Context, runner runtime.Runner, index int, cmd runtime.Command) (*runtime.ExecResult, *StepResult, error) {
	runCtx := ctx
	if e.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.StepTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := runner.Run(runCtx, cmd)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &StepResult{Index: index, Command: cmd.Argv(), ExitCode: -1, Duration: elapsed},
				&TimeoutError{Index: index, Command: cmd.Argv(), Limit: e.cfg.StepTimeout}
		}
		if ctx.Err() != nil {
			return nil, nil, err
		}
		return nil, &StepResult{Index: index, Command: cmd.Argv(), ExitCode: -1, Output: err.Error(), Duration: elapsed}, err
	}

	return res, &StepResult{
		Index:    index,
		Command:  cmd.Argv(),
		ExitCode: res.ExitCode,
		Output:   res.Combined(),
		Duration: elapsed,
	}, nil
}
