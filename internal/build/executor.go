package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cruciblehq/keg/internal/recipe"
	"github.com/cruciblehq/keg/internal/registry"
	"github.com/cruciblehq/keg/internal/runtime"
	"github.com/cruciblehq/keg/internal/source"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
)

// Obtains source archives.
//
// Acquire may return unverified bytes. The executor verifies them and
// passes verified staging files to Commit. [source.Fetcher] is the
// production implementation.
type Fetcher interface {
	Acquire(ctx context.Context, url string, want digest.Digest) (string, error)
	Commit(path, url string, want digest.Digest) string
	Cached(path string) bool
}

// Receives every finished execution, for metrics.
type Observer interface {
	Observe(r *Result)
}

// Controls recipe execution.
type Config struct {
	Prefix          string        // Destination root every install writes under.
	BuildRoot       string        // Parent of per-execution build directories.
	KeepBuild       bool          // Keep build directories after the execution ends.
	Overwrite       bool          // Replace files owned by other packages or by nobody.
	StepTimeout     time.Duration // Limit for each run step and test command; zero means none.
	Jobs            int           // Concurrent executions in InstallAll; zero or less means one.
	AllowSystemDeps bool          // Resolve dependencies on the host PATH.
	Output          io.Writer     // Live copy of command output; nil discards it.
	Observer        Observer
}

// Runs recipes: fetch, verify, build, install, test.
//
// An Executor is safe for concurrent use. Independent executions share only
// the registry. Conflict checks, file placement, smoke tests and registry
// updates of concurrent executions are serialized so that two packages
// never claim the same file.
type Executor struct {
	cfg      Config
	fetcher  Fetcher
	provider runtime.Provider
	store    registry.Store
	resolver *registry.Resolver

	installMu sync.Mutex // Serializes prefix and registry mutation.

	mu     sync.Mutex
	active map[string]*execution
}

// Creates an executor.
func New(cfg Config, fetcher Fetcher, provider runtime.Provider, store registry.Store) *Executor {
	if cfg.Jobs <= 0 {
		cfg.Jobs = 1
	}
	return &Executor{
		cfg:      cfg,
		fetcher:  fetcher,
		provider: provider,
		store:    store,
		resolver: registry.NewResolver(store, cfg.AllowSystemDeps),
		active:   make(map[string]*execution),
	}
}

// Snapshot of a running execution.
type Progress struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Version string    `json:"version"`
	State   State     `json:"state"`
	Started time.Time `json:"started"`
}

// Returns the executions currently in progress, oldest first.
func (e *Executor) Active() []Progress {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Progress, 0, len(e.active))
	for _, x := range e.active {
		out = append(out, Progress{
			ID:      x.id,
			Name:    x.recipe.Name,
			Version: x.recipe.Version,
			State:   x.machine.current(),
			Started: x.started,
		})
	}
	slices.SortFunc(out, func(a, b Progress) int { return a.Started.Compare(b.Started) })
	return out
}

// Builds, installs and tests one recipe.
//
// The returned result is never nil. Its Err is also returned, so callers may
// use either. A package already installed from the same name, version and
// checksum is not rebuilt: the result is Done, Skipped, and carries the
// existing artifact.
func (e *Executor) Install(ctx context.Context, r *recipe.Recipe) (*Result, error) {
	x := newExecution(e, r)

	e.mu.Lock()
	e.active[x.id] = x
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, x.id)
		e.mu.Unlock()
	}()

	slog.Info("executing recipe", "recipe", r.Name, "version", r.Version, "id", x.id)
	res := x.run(ctx)

	if res.Err != nil {
		slog.Error("recipe failed", "recipe", r.Name, "outcome", res.Outcome, "error", res.Err)
	} else {
		slog.Info("recipe installed", "recipe", r.Name, "version", r.Version, "skipped", res.Skipped, "duration", res.Duration)
	}
	if e.cfg.Observer != nil {
		e.cfg.Observer.Observe(res)
	}
	return res, res.Err
}

// Installs independent recipes concurrently, at most Jobs at a time.
//
// One failure does not stop the others. Results are in input order; the
// error joins every failure.
func (e *Executor) InstallAll(ctx context.Context, recipes []*recipe.Recipe) ([]*Result, error) {
	results := make([]*Result, len(recipes))

	var g errgroup.Group
	g.SetLimit(e.cfg.Jobs)
	for i, r := range recipes {
		g.Go(func() error {
			results[i], _ = e.Install(ctx, r)
			return nil
		})
	}
	g.Wait()

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, res.Err))
		}
	}
	return results, errors.Join(errs...)
}

// Downloads and verifies a recipe's source without building it.
//
// The returned path is a verified archive. When it is not a cache entry
// the caller owns it.
func (e *Executor) Fetch(ctx context.Context, r *recipe.Recipe) (string, error) {
	path, err := e.fetcher.Acquire(ctx, r.URL, r.SHA256)
	if err != nil {
		return "", err
	}
	if err := source.Verify(path, r.SHA256); err != nil {
		e.discard(path)
		return "", err
	}
	return e.fetcher.Commit(path, r.URL, r.SHA256), nil
}

// Removes an installed package's files and its registry record.
//
// Only files recorded for the package are removed, each confined to the
// prefix it was installed under. Directories left empty are pruned up to
// the prefix.
func (e *Executor) Uninstall(ctx context.Context, name string) (*registry.Artifact, error) {
	e.installMu.Lock()
	defer e.installMu.Unlock()

	a, err := e.store.Get(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := removeFiles(a.Prefix, a.Files); err != nil {
		return nil, err
	}
	if err := e.store.Delete(name); err != nil {
		return nil, err
	}

	slog.Info("package uninstalled", "name", a.Name, "version", a.Version, "files", len(a.Files))
	return a, nil
}

// Runs the smoke tests of an installed package. Nothing is rolled back on
// failure.
func (e *Executor) Test(ctx context.Context, name string) (*Result, error) {
	a, err := e.store.Get(name)
	if err != nil {
		return nil, err
	}
	if a.Recipe == nil {
		return nil, fmt.Errorf("%w: %s has no recipe snapshot", registry.ErrCorrupt, name)
	}

	res := &Result{
		ID:       newID(a.Recipe),
		Name:     a.Name,
		Version:  a.Version,
		State:    StateTesting,
		Artifact: a,
		Started:  time.Now(),
	}

	home, err := os.MkdirTemp("", "keg-test-")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	defer os.RemoveAll(home)

	session, err := e.testSession(ctx, res.ID, a.Prefix, home)
	if err != nil {
		return nil, err
	}
	defer session.Close(context.WithoutCancel(ctx))

	err = e.runTests(ctx, session, a.Recipe, a.Prefix, home, res)

	res.Duration = time.Since(res.Started)
	res.Outcome = classify(err, StateTesting)
	res.State = StateDone
	if err != nil {
		res.State = StateFailed
		res.Err = err
		res.Error = err.Error()
	}
	return res, err
}

// Removes a downloaded archive unless the fetcher's cache owns it.
func (e *Executor) discard(path string) {
	if path != "" && !e.fetcher.Cached(path) {
		os.Remove(path)
	}
}

// Returns a unique, filesystem-safe identifier for one execution.
func newID(r *recipe.Recipe) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(r.Name + "-" + r.Version)
	return name + "-" + newUUID()
}
