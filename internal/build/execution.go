package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cruciblehq/keg/internal/recipe"
	"github.com/cruciblehq/keg/internal/registry"
	"github.com/cruciblehq/keg/internal/runtime"
	"github.com/cruciblehq/keg/internal/source"
	"github.com/google/uuid"
)

// Holds the state of one recipe execution.
type execution struct {
	e       *Executor
	id      string
	recipe  *recipe.Recipe
	machine *machine
	started time.Time
	result  *Result

	archive string       // Source archive, verified once Building is reached.
	env     *environment // Build directory, once created.
	deps    []string     // Resolved build dependency directories.
}

func newExecution(e *Executor, r *recipe.Recipe) *execution {
	x := &execution{e: e, id: newID(r), recipe: r, started: time.Now()}
	x.machine = newMachine(func(from, to State) {
		slog.Debug("state", "recipe", r.Name, "id", x.id, "from", from, "to", to)
	})
	x.result = &Result{ID: x.id, Name: r.Name, Version: r.Version, Started: x.started}
	return x
}

// Drives the execution to a terminal state and returns its result.
func (x *execution) run(ctx context.Context) *Result {
	err := x.pipeline(ctx)
	x.cleanup()

	res := x.result
	if err != nil {
		state := x.machine.current()
		res.Outcome = classify(err, state)
		res.Err = err
		res.Error = err.Error()
		x.machine.advance(StateFailed)
	} else {
		res.Outcome = OutcomeSuccess
	}
	res.State = x.machine.current()
	res.Path = x.machine.path()
	res.Duration = time.Since(x.started)
	return res
}

func (x *execution) pipeline(ctx context.Context) error {
	r := x.recipe

	if a, ok := x.installed(); ok {
		slog.Info("already installed", "recipe", r.Name, "version", r.Version)
		x.result.Skipped = true
		x.result.Artifact = a
		x.machine.advance(StateDone)
		return nil
	}

	deps, err := x.e.resolver.ResolveAll(ctx, r.DependsOn.ForBuild())
	if err != nil {
		return err
	}
	x.deps = deps

	x.machine.advance(StateFetching)
	if x.archive, err = x.e.fetcher.Acquire(ctx, r.URL, r.SHA256); err != nil {
		return err
	}

	// Verified here whatever the fetcher did, so no step ever sees
	// unverified bytes.
	x.machine.advance(StateVerifying)
	if err := source.Verify(x.archive, r.SHA256); err != nil {
		return err
	}
	x.archive = x.e.fetcher.Commit(x.archive, r.URL, r.SHA256)

	x.machine.advance(StateBuilding)
	if x.env, err = newEnvironment(x.e.cfg.BuildRoot, x.id); err != nil {
		return err
	}
	if err := source.Unpack(x.archive, x.env.src); err != nil {
		return err
	}

	session, err := x.e.provider.Open(ctx, runtime.Scope{
		ID:    x.id,
		Binds: []runtime.Bind{{Path: x.env.root}, {Path: x.e.cfg.Prefix}},
	})
	if err != nil {
		return err
	}
	defer session.Close(context.WithoutCancel(ctx))

	if err := x.build(ctx, session); err != nil {
		return err
	}

	x.machine.advance(StateInstalling)
	x.e.installMu.Lock()
	defer x.e.installMu.Unlock()

	tx, err := x.install()
	if err != nil {
		return err
	}

	x.machine.advance(StateTesting)
	if err := x.e.runTests(ctx, session, r, x.e.cfg.Prefix, x.env.root, x.result); err != nil {
		if rbErr := tx.rollback(); rbErr != nil {
			slog.Error("rollback failed", "recipe", r.Name, "error", rbErr)
			return errors.Join(err, rbErr)
		}
		x.result.Artifact = nil
		return err
	}

	tx.commit()
	x.machine.advance(StateDone)
	return nil
}

// Returns the registered artifact when the same recipe is already installed
// and all of its files are still present.
func (x *execution) installed() (*registry.Artifact, bool) {
	a, err := x.e.store.Get(x.recipe.Name)
	if err != nil || !a.Matches(x.recipe) || a.Prefix != x.e.cfg.Prefix {
		return nil, false
	}
	for _, f := range a.Files {
		if _, err := os.Lstat(filepath.Join(a.Prefix, filepath.FromSlash(f))); err != nil {
			return nil, false
		}
	}
	return a, true
}

// Releases the archive and, unless kept, the build directory.
func (x *execution) cleanup() {
	if x.archive != "" {
		x.e.discard(x.archive)
	}
	if x.env == nil {
		return
	}
	if x.e.cfg.KeepBuild {
		x.result.BuildDir = x.env.root
		slog.Info("build directory kept", "path", x.env.root)
		return
	}
	if err := x.env.remove(); err != nil {
		slog.Warn("failed to remove build directory", "path", x.env.root, "error", err)
	}
}

// Ephemeral working area of one execution.
//
// The root directory name ends in a fresh uuid, so an environment is never
// reused, not even by a retry of the same recipe.
type environment struct {
	root string // <build root>/<name>-<version>-<uuid>
	src  string // Extracted source tree.
}

func newEnvironment(buildRoot, id string) (*environment, error) {
	root := filepath.Join(buildRoot, id)
	if err := os.MkdirAll(buildRoot, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	if err := os.Mkdir(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	return &environment{root: root, src: filepath.Join(root, "src")}, nil
}

func (env *environment) remove() error {
	// Builds may leave read-only directories behind.
	filepath.WalkDir(env.root, func(p string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			os.Chmod(p, 0o755)
		}
		return nil
	})
	return os.RemoveAll(env.root)
}

func newUUID() string {
	return uuid.NewString()
}
