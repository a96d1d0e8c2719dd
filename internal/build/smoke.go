package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cruciblehq/keg/internal/recipe"
	"github.com/cruciblehq/keg/internal/runtime"
)

// Runs the recipe's smoke tests against the installed package.
//
// Each assertion runs in the prefix with the prefix's bin directory and
// the resolved test dependencies ahead of PATH. It passes when the command
// exits with the declared status, 0 by default, and combined stdout and
// stderr contain the expected text.
func (e *Executor) runTests(ctx context.Context, runner runtime.Runner, r *recipe.Recipe, prefix, home string, res *Result) error {
	if len(r.Test) == 0 {
		return nil
	}

	deps, err := e.resolver.ResolveAll(ctx, r.DependsOn.ForTest())
	if err != nil {
		return err
	}
	path := append([]string{filepath.Join(prefix, "bin")}, deps...)
	vars := recipe.VarsFor(r, prefix, "")

	for i, a := range r.Test {
		argv := vars.Expand(a.Argv())
		cmd := runtime.Command{
			Program: argv[0],
			Args:    argv[1:],
			Dir:     prefix,
			Env:     []string{"HOME=" + home, "KEG_PREFIX=" + prefix},
			Path:    path,
			Output:  e.cfg.Output,
		}

		slog.Debug("test", "recipe", r.Name, "index", i, "command", argv)
		out, sr, err := e.execute(ctx, runner, i, cmd)
		if sr != nil {
			res.Tests = append(res.Tests, *sr)
		}
		if err != nil {
			var te *TimeoutError
			if errors.As(err, &te) || ctx.Err() != nil {
				return err
			}
			return &AssertionError{Index: i, Command: argv, Expected: a.Expect, Actual: err.Error(), ExitCode: -1, Status: a.Status}
		}

		if out.ExitCode != a.Status || !strings.Contains(out.Combined(), a.Expect) {
			return &AssertionError{Index: i, Command: argv, Expected: a.Expect, Actual: out.Combined(), ExitCode: out.ExitCode, Status: a.Status}
		}
		slog.Debug("test passed", "recipe", r.Name, "index", i)
	}
	return nil
}

// Opens a session that can see the prefix and a scratch home directory.
func (e *Executor) testSession(ctx context.Context, id, prefix, home string) (runtime.Session, error) {
	if err := os.MkdirAll(prefix, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	return e.provider.Open(ctx, runtime.Scope{
		ID:    id,
		Binds: []runtime.Bind{{Path: prefix, ReadOnly: true}, {Path: home}},
	})
}
