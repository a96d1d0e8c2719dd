package registry

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"slices"

	"github.com/cruciblehq/keg/internal/recipe"
)

// Locates dependency executables.
type Resolver struct {
	store       Store
	allowSystem bool
	lookPath    func(string) (string, error)
}

// Returns a resolver that prefers packages recorded in store and, when
// allowSystem is set, falls back to executables on the host PATH.
func NewResolver(store Store, allowSystem bool) *Resolver {
	return &Resolver{store: store, allowSystem: allowSystem, lookPath: exec.LookPath}
}

// Returns the directory holding name's executables.
//
// An installed package resolves to the bin directory under its prefix. A
// host executable resolves to the directory it was found in.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	a, err := r.store.Get(name)
	if err == nil {
		return filepath.Join(a.Prefix, "bin"), nil
	}
	if !errors.Is(err, ErrNotInstalled) {
		return "", err
	}

	if r.allowSystem {
		if p, err := r.lookPath(name); err == nil {
			return filepath.Dir(p), nil
		}
	}
	return "", &MissingError{Names: []string{name}}
}

// Resolves every dependency and returns the distinct directories in
// dependency order.
//
// All dependencies are attempted so that a [*MissingError] names every
// missing one at once.
func (r *Resolver) ResolveAll(ctx context.Context, deps []recipe.Dependency) ([]string, error) {
	var dirs, missing []string
	for _, dep := range deps {
		dir, err := r.Resolve(ctx, dep.Name)
		if err != nil {
			if !errors.Is(err, ErrDependencyNotFound) {
				return nil, err
			}
			missing = append(missing, dep.Name)
			continue
		}
		if !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingError{Names: missing}
	}
	return dirs, nil
}
