package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Time given to a killed process group to release its pipes.
const waitDelay = 5 * time.Second

// Runs commands directly on the host.
//
// Each command gets its own process group so that a timeout or
// cancellation kills everything it spawned. The environment starts from a
// small allowlist of host variables rather than the full caller
// environment.
type Host struct{}

// Returns the host itself; host sessions hold no resources.
func (h Host) Open(ctx context.Context, scope Scope) (Session, error) {
	return h, nil
}

// Nothing to release.
func (Host) Close(ctx context.Context) error {
	return nil
}

func (Host) Run(ctx context.Context, cmd Command) (*ExecResult, error) {
	env := commandEnv(hostEnv(), cmd)

	program, err := lookPath(cmd.Program, lookupEnv(env, "PATH"), cmd.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStart, cmd.Program, err)
	}

	c := exec.CommandContext(ctx, program, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = env
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
	c.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	c.Stdout, c.Stderr = &stdout, &stderr
	if cmd.Output != nil {
		c.Stdout = io.MultiWriter(&stdout, cmd.Output)
		c.Stderr = io.MultiWriter(&stderr, cmd.Output)
	}

	slog.Debug("exec", "argv", cmd.Argv(), "dir", cmd.Dir)
	err = c.Run()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := &ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		if result.ExitCode < 0 {
			// Killed by a signal.
			result.ExitCode = 128 + int(exitErr.Sys().(syscall.WaitStatus).Signal())
		}
	default:
		return nil, fmt.Errorf("%w: %s: %w", ErrStart, cmd.Program, err)
	}
	return result, nil
}

// Resolves program against path rather than the caller's PATH. Names with
// a slash are taken relative to dir.
func lookPath(program, path, dir string) (string, error) {
	if strings.Contains(program, "/") {
		if !filepath.IsAbs(program) {
			program = filepath.Join(dir, program)
		}
		return program, nil
	}
	for _, d := range filepath.SplitList(path) {
		if d == "" {
			continue
		}
		candidate := filepath.Join(d, program)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", exec.ErrNotFound
}
