package build

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cruciblehq/keg/internal/recipe"
	"github.com/cruciblehq/keg/internal/registry"
	securejoin "github.com/cyphar/filepath-securejoin"
)

// Suffix of files set aside while an install is pending.
const backupSuffix = ".keg-backup"

// One file to copy into the prefix.
type placement struct {
	src  string      // Absolute path in the source tree.
	rel  string      // Slash-separated target relative to the prefix.
	mode fs.FileMode // Permission bits of the installed file.
}

// Pending changes to the prefix and registry, undone by rollback.
type installTx struct {
	prefix  string
	store   registry.Store
	name    string
	placed  []string           // Absolute paths written.
	backups map[string]string  // Replaced file to its backup.
	dirs    []string           // Directories this install created.
	prev    *registry.Artifact // Record this install replaces, if any.
	stolen  []*registry.Artifact
	current *registry.Artifact
}

// Copies the recipe's outputs into the prefix and registers the artifact.
//
// Every target is checked for conflicts before anything is written. Files
// replaced by the install are kept aside until commit, so a failed install
// or a failed smoke test restores the prefix exactly. The caller holds the
// executor's install lock.
func (x *execution) install() (*installTx, error) {
	r := x.recipe
	prefix := x.e.cfg.Prefix
	store := x.e.store

	plan, err := planOutputs(x.env.src, r.Outputs())
	if err != nil {
		return nil, err
	}

	prev, err := store.Get(r.Name)
	if err != nil && !errors.Is(err, registry.ErrNotInstalled) {
		return nil, err
	}

	stolen, err := x.checkConflicts(plan, prev)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.Version != r.Version {
		logReplace(prev.Version, r)
	}

	tx := &installTx{
		prefix:  prefix,
		store:   store,
		name:    r.Name,
		backups: make(map[string]string),
		prev:    prev,
	}

	for _, p := range plan {
		if err := tx.place(p); err != nil {
			return nil, errors.Join(fmt.Errorf("%w: %s: %w", ErrInstall, p.rel, err), tx.rollback())
		}
	}

	files := make([]string, 0, len(plan))
	for _, p := range plan {
		files = append(files, p.rel)
	}
	slices.Sort(files)

	artifact := &registry.Artifact{
		Name:        r.Name,
		Version:     r.Version,
		SHA256:      r.SHA256,
		License:     r.License,
		Prefix:      prefix,
		Files:       files,
		Recipe:      r,
		InstalledAt: time.Now().UTC(),
	}

	if err := tx.register(artifact, stolen); err != nil {
		return nil, errors.Join(fmt.Errorf("%w: %w", ErrInstall, err), tx.rollback())
	}

	x.result.Artifact = artifact
	slog.Info("installed", "recipe", r.Name, "files", len(files), "prefix", prefix)
	return tx, nil
}

func logReplace(from string, r *recipe.Recipe) {
	kind := "replacing"
	if cmp, ok := recipe.CompareVersions(r.Version, from); ok {
		switch {
		case cmp > 0:
			kind = "upgrading"
		case cmp < 0:
			kind = "downgrading"
		}
	}
	slog.Info(kind, "recipe", r.Name, "from", from, "to", r.Version)
}

// Expands install directives into individual files.
//
// A directory source installs every regular file below it, keeping the
// relative layout under the target.
func planOutputs(srcRoot string, outputs []recipe.Output) ([]placement, error) {
	var plan []placement
	seen := make(map[string]bool)

	add := func(src, rel string, mode fs.FileMode) error {
		if seen[rel] {
			return fmt.Errorf("%w: %s is installed twice", ErrInstall, rel)
		}
		seen[rel] = true
		plan = append(plan, placement{src: src, rel: rel, mode: mode})
		return nil
	}

	for _, o := range outputs {
		src, err := securejoin.SecureJoin(srcRoot, o.Source)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInstall, o.Source, err)
		}
		info, err := os.Stat(src)
		if err != nil {
			return nil, fmt.Errorf("%w: build output %s: %w", ErrInstall, o.Source, err)
		}

		switch {
		case info.Mode().IsRegular():
			if err := add(src, o.Target(), modeFor(o, info)); err != nil {
				return nil, err
			}

		case info.IsDir():
			err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return err
				}
				rel, err := filepath.Rel(src, p)
				if err != nil {
					return err
				}
				resolved, err := securejoin.SecureJoin(srcRoot, filepath.Join(o.Source, rel))
				if err != nil {
					return err
				}
				fi, err := os.Stat(resolved)
				if err != nil || !fi.Mode().IsRegular() {
					return nil
				}
				return add(resolved, path.Join(o.Target(), filepath.ToSlash(rel)), modeFor(o, fi))
			})
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInstall, o.Source, err)
			}

		default:
			return nil, fmt.Errorf("%w: build output %s is not a regular file", ErrInstall, o.Source)
		}
	}
	return plan, nil
}

func modeFor(o recipe.Output, info fs.FileInfo) fs.FileMode {
	if o.Mode != 0 {
		return o.Mode
	}
	return info.Mode().Perm()
}

// Returns the artifacts that lose files to this install, or the conflicts
// that block it.
//
// A target owned by another package, or present on disk and owned by no
// package, conflicts unless Overwrite is set. Files of an earlier install
// of the same package never conflict.
func (x *execution) checkConflicts(plan []placement, prev *registry.Artifact) ([]*registry.Artifact, error) {
	prefix := x.e.cfg.Prefix
	store := x.e.store
	overwrite := x.e.cfg.Overwrite

	var conflicts []error
	stolen := make(map[string]*registry.Artifact)

	for _, p := range plan {
		owner, err := store.Owner(p.rel)
		if err != nil {
			return nil, err
		}

		switch owner {
		case x.recipe.Name:
			continue

		case "":
			dest, err := securejoin.SecureJoin(prefix, p.rel)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInstall, p.rel, err)
			}
			if _, err := os.Lstat(dest); err == nil && !overwrite {
				conflicts = append(conflicts, &ConflictError{Path: p.rel})
			}

		default:
			if !overwrite {
				conflicts = append(conflicts, &ConflictError{Path: p.rel, Owner: owner})
				continue
			}
			a, ok := stolen[owner]
			if !ok {
				if a, err = store.Get(owner); err != nil {
					return nil, err
				}
				stolen[owner] = a
			}
			a.Files = slices.DeleteFunc(a.Files, func(f string) bool { return f == p.rel })
			slog.Warn("overwriting file of another package", "path", p.rel, "owner", owner)
		}
	}

	if len(conflicts) > 0 {
		return nil, errors.Join(conflicts...)
	}

	out := make([]*registry.Artifact, 0, len(stolen))
	for _, a := range stolen {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b *registry.Artifact) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// Writes one file through a temporary sibling and a rename, setting any
// existing file aside first.
func (tx *installTx) place(p placement) error {
	dest, err := securejoin.SecureJoin(tx.prefix, p.rel)
	if err != nil {
		return err
	}
	if err := tx.mkdirAll(filepath.Dir(dest)); err != nil {
		return err
	}

	if info, err := os.Lstat(dest); err == nil {
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", dest)
		}
		backup := dest + backupSuffix
		if err := os.Rename(dest, backup); err != nil {
			return err
		}
		tx.backups[dest] = backup
	}

	if err := copyFile(p.src, dest, p.mode); err != nil {
		return err
	}
	tx.placed = append(tx.placed, dest)
	return nil
}

// Creates dir and its missing parents, remembering which ones it created.
func (tx *installTx) mkdirAll(dir string) error {
	var missing []string
	for d := filepath.Clean(dir); ; d = filepath.Dir(d) {
		if _, err := os.Lstat(d); err == nil || d == filepath.Dir(d) {
			break
		}
		missing = append(missing, d)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tx.dirs = append(tx.dirs, missing...)
	return nil
}

// Records the new artifact and trims the records of packages whose files
// it took over. A package left without files is unregistered.
func (tx *installTx) register(a *registry.Artifact, stolen []*registry.Artifact) error {
	originals := make([]*registry.Artifact, 0, len(stolen))
	for _, s := range stolen {
		orig, err := tx.store.Get(s.Name)
		if err != nil {
			return err
		}
		originals = append(originals, orig)
		if len(s.Files) == 0 {
			err = tx.store.Delete(s.Name)
			slog.Warn("package lost all of its files and was unregistered", "package", s.Name, "by", a.Name)
		} else {
			err = tx.store.Put(s)
		}
		if err != nil {
			tx.stolen = originals
			return err
		}
	}
	tx.stolen = originals

	if err := tx.store.Put(a); err != nil {
		return err
	}
	tx.current = a
	return nil
}

// Undoes every change made so far.
func (tx *installTx) rollback() error {
	var errs []error

	for _, p := range tx.placed {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	for dest, backup := range tx.backups {
		if err := os.Rename(backup, dest); err != nil {
			errs = append(errs, err)
		}
	}
	// Deepest first; directories that gained other files stay.
	slices.SortFunc(tx.dirs, func(a, b string) int { return len(b) - len(a) })
	for _, d := range tx.dirs {
		os.Remove(d)
	}

	if tx.current != nil {
		var err error
		if tx.prev != nil {
			err = tx.store.Put(tx.prev)
		} else {
			err = tx.store.Delete(tx.name)
		}
		if err != nil && !errors.Is(err, registry.ErrNotInstalled) {
			errs = append(errs, err)
		}
	}
	for _, orig := range tx.stolen {
		if err := tx.store.Put(orig); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: rollback: %w", ErrInstall, errors.Join(errs...))
	}
	slog.Info("install rolled back", "recipe", tx.name)
	return nil
}

// Makes the install final: drops backups and removes files of the
// replaced version that the new version no longer ships.
func (tx *installTx) commit() {
	for _, backup := range tx.backups {
		os.Remove(backup)
	}
	if tx.prev == nil || tx.current == nil {
		return
	}

	var stale []string
	for _, f := range tx.prev.Files {
		if !tx.current.Owns(f) {
			stale = append(stale, f)
		}
	}
	if err := removeFiles(tx.prefix, stale); err != nil {
		slog.Warn("failed to remove files of previous version", "recipe", tx.name, "error", err)
	}
}

// Copies src to dest through a temporary file in dest's directory.
func copyFile(src, dest string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".keg-tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		tmp.Close()
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return err
	}
	committed = true
	return nil
}

// Removes files relative to prefix and prunes directories left empty.
// Files already gone are ignored.
func removeFiles(prefix string, files []string) error {
	var errs []error
	for _, f := range files {
		p, err := securejoin.SecureJoin(prefix, f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		pruneEmpty(prefix, filepath.Dir(p))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrFileSystemOperation, errors.Join(errs...))
	}
	return nil
}

// Removes dir and its parents while they are empty, stopping at prefix.
func pruneEmpty(prefix, dir string) {
	prefix = filepath.Clean(prefix)
	for dir = filepath.Clean(dir); dir != prefix && strings.HasPrefix(dir, prefix+string(filepath.Separator)); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}
