package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Sequence counter for generating unique exec process identifiers.
var execSeq uint64

// Returns a unique exec process identifier.
func nextExecID() string {
	return fmt.Sprintf("exec-%d", atomic.AddUint64(&execSeq, 1))
}

// Runs a command inside the container.
//
// The command runs directly, without a shell. cmd.Env and cmd.Path are
// applied on top of the image environment for this execution only.
func (c *Container) Run(ctx context.Context, cmd Command) (*ExecResult, error) {
	pspec, err := c.buildProcessSpec(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	var stdout, stderr bytes.Buffer
	var out, errOut io.Writer = &stdout, &stderr
	if cmd.Output != nil {
		out = io.MultiWriter(&stdout, cmd.Output)
		errOut = io.MultiWriter(&stderr, cmd.Output)
	}

	slog.Debug("exec", "container", c.id, "argv", cmd.Argv(), "dir", cmd.Dir)
	exitCode, err := c.execProcess(ctx, pspec, out, errOut)
	if err != nil {
		return nil, err
	}

	return &ExecResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Builds an OCI process spec for running cmd inside the container.
//
// The base values are copied from the container's own OCI spec, then env
// and working directory are overridden.
func (c *Container) buildProcessSpec(ctx context.Context, cmd Command) (*specs.Process, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, err
	}

	spec, err := ctr.Spec(ctx)
	if err != nil {
		return nil, err
	}

	pspec := *spec.Process
	pspec.Terminal = false
	pspec.Args = cmd.Argv()
	pspec.Env = commandEnv(pspec.Env, cmd)
	if cmd.Dir != "" {
		pspec.Cwd = cmd.Dir
	}

	return &pspec, nil
}

// Starts a process inside the container's running task, waits for it to
// exit, and returns the exit code.
//
// The process is attached to the task as an additional exec, not as the
// primary process. A non-zero exit code is not treated as an error.
func (c *Container) execProcess(ctx context.Context, pspec *specs.Process, stdout, stderr io.Writer) (int, error) {
	task, err := c.loadTask(ctx)
	if err != nil {
		return 0, err
	}

	process, err := task.Exec(ctx, nextExecID(), pspec, cio.NewCreator(
		cio.WithStreams(nil, stdout, stderr),
	))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	return awaitProcess(ctx, process)
}

// Loads the container's running task.
func (c *Container) loadTask(ctx context.Context) (containerd.Task, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	return task, nil
}

// Waits for an exec process to exit and returns the exit code.
//
// When ctx ends first the process is killed and ctx.Err() is returned. The
// process is always deleted before returning. Cleanup runs on a context
// that outlives ctx so that a cancelled build does not leak processes.
func awaitProcess(ctx context.Context, process containerd.Process) (int, error) {
	bg := context.WithoutCancel(ctx)

	statusC, err := process.Wait(bg)
	if err != nil {
		process.Delete(bg)
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := process.Start(ctx); err != nil {
		process.Delete(bg)
		return 0, fmt.Errorf("%w: %w", ErrStart, err)
	}

	var exitStatus containerd.ExitStatus
	select {
	case exitStatus = <-statusC:
	case <-ctx.Done():
		process.Kill(bg, syscall.SIGKILL)
		<-statusC
		process.Delete(bg)
		return 0, ctx.Err()
	}
	process.Delete(bg)

	code, _, err := exitStatus.Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	return int(code), nil
}
