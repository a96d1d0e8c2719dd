package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/cruciblehq/keg/internal"
	"github.com/cruciblehq/keg/internal/build"
	"github.com/cruciblehq/keg/internal/metrics"
	"github.com/cruciblehq/keg/internal/recipe"
	"github.com/cruciblehq/keg/internal/registry"
	"github.com/cruciblehq/keg/internal/runtime"
	"github.com/cruciblehq/keg/internal/settings"
	"github.com/cruciblehq/keg/internal/source"
)

// Per-invocation build options set by flags.
type BuildFlags struct {
	KeepBuild bool   `help:"Keep build directories for inspection."`
	Overwrite bool   `help:"Replace files owned by other packages or by no package."`
	Jobs      int    `short:"j" help:"Recipes to build concurrently." placeholder:"N"`
	Runner    string `help:"Where build steps run: host or containerd." placeholder:"RUNNER"`
}

// Applies flags on top of s, the last configuration layer.
func (f BuildFlags) apply(s *settings.Settings) error {
	if f.Jobs != 0 {
		s.Jobs = f.Jobs
	}
	if f.Runner != "" {
		s.Runner = f.Runner
	}
	return s.Validate()
}

// Everything a command needs to execute recipes.
type workspace struct {
	settings *settings.Settings
	store    registry.Store
	metrics  *metrics.Metrics
	executor *build.Executor
	release  func() error
}

// Opens the registry, the fetcher and the step runner selected by s.
//
// The workspace must be closed; closing writes the metrics file.
func openWorkspace(s *settings.Settings, f BuildFlags) (*workspace, error) {
	store, err := registry.NewFileStore(s.Registry)
	if err != nil {
		return nil, err
	}

	provider, release, err := newProvider(s)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	retries := s.FetchRetries
	if retries == 0 {
		retries = -1
	}
	fetcher := source.NewFetcher(source.Config{
		Dir:       s.Downloads,
		Retries:   retries,
		Timeout:   s.FetchTimeout,
		UserAgent: internal.UserAgent(),
		OnRetry:   m.Retried,
	})

	var output io.Writer
	if internal.IsVerbose() {
		output = os.Stderr
	}

	exec := build.New(build.Config{
		Prefix:          s.Prefix,
		BuildRoot:       s.Builds,
		KeepBuild:       f.KeepBuild,
		Overwrite:       f.Overwrite,
		StepTimeout:     s.StepTimeout,
		Jobs:            s.Jobs,
		AllowSystemDeps: s.AllowSystemDeps,
		Output:          output,
		Observer:        m,
	}, fetcher, provider, store)

	return &workspace{settings: s, store: store, metrics: m, executor: exec, release: release}, nil
}

// Returns the step runner selected by s and a function releasing it.
func newProvider(s *settings.Settings) (runtime.Provider, func() error, error) {
	switch s.Runner {
	case settings.RunnerContainerd:
		rt, err := runtime.New(runtime.Config{
			Address:     s.Containerd.Address,
			Namespace:   s.Containerd.Namespace,
			Image:       s.Containerd.Image,
			Snapshotter: s.Containerd.Snapshotter,
		})
		if err != nil {
			return nil, nil, err
		}
		slog.Debug("using containerd runner", "address", s.Containerd.Address, "image", s.Containerd.Image)
		return rt, rt.Close, nil
	default:
		return runtime.Host{}, func() error { return nil }, nil
	}
}

// Writes the metrics file and releases the step runner.
func (w *workspace) Close() error {
	var errs []error
	if err := w.metrics.WriteFile(w.settings.MetricsFile); err != nil {
		errs = append(errs, fmt.Errorf("metrics: %w", err))
	}
	if err := w.release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Resolves and loads recipe arguments, reporting every bad one at once.
func loadRecipes(args []string, dirs []string) ([]*recipe.Recipe, error) {
	var recipes []*recipe.Recipe
	var errs []error
	for _, arg := range args {
		r, err := loadRecipe(arg, dirs)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		recipes = append(recipes, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return recipes, nil
}

func loadRecipe(arg string, dirs []string) (*recipe.Recipe, error) {
	path, err := recipe.Find(arg, dirs)
	if err != nil {
		return nil, err
	}
	return recipe.Load(path)
}

// Prints one line per execution result.
func printResults(w io.Writer, results []*build.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, res := range results {
		if res == nil {
			continue
		}
		status := string(res.Outcome)
		if res.Skipped {
			status = "already installed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s", res.Name, res.Version, status, res.Duration.Round(10*time.Millisecond))
		if res.BuildDir != "" {
			fmt.Fprintf(tw, "\tkept %s", res.BuildDir)
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()

	for _, res := range results {
		if res != nil && res.Error != "" {
			fmt.Fprintf(w, "\n%s: %s\n", res.Name, res.Error)
		}
	}
}

// Joins the errors recorded in results, for results received from the
// daemon.
func joinResultErrors(results []*build.Result) error {
	var errs []error
	for _, res := range results {
		if res != nil && res.Error != "" {
			errs = append(errs, fmt.Errorf("%s: %s", res.Name, res.Error))
		}
	}
	return errors.Join(errs...)
}

// Shortens paths under the home directory for display.
func displayPath(p string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if rel, err := filepath.Rel(home, p); err == nil && filepath.IsLocal(rel) {
		return filepath.Join("~", rel)
	}
	return p
}
