package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

const recordSuffix = ".json"

// [Store] backed by a directory holding one <name>.json per package.
//
// Records are replaced with an atomic, durable write: temp file, fsync,
// rename, directory fsync.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// Returns a store rooted at dir. The directory is created on first write.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("registry directory is required")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+recordSuffix)
}

func (s *FileStore) Get(name string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(name)
}

func (s *FileStore) load(name string) (*Artifact, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrNotInstalled, name)
	}

	var a Artifact
	if err := readJSONStrict(s.path(name), &a); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotInstalled, name)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, name, err)
	}
	if a.Name != name {
		return nil, fmt.Errorf("%w: %s: record names %q", ErrCorrupt, name, a.Name)
	}
	return &a, nil
}

func (s *FileStore) List() ([]*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	// os.ReadDir returns entries sorted by filename.
	var list []*Artifact
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), recordSuffix)
		if e.IsDir() || !ok || strings.HasPrefix(name, ".") {
			continue
		}
		a, err := s.load(name)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, nil
}

func (s *FileStore) Owner(file string) (string, error) {
	list, err := s.List()
	if err != nil {
		return "", err
	}
	return ownerOf(list, file), nil
}

func (s *FileStore) Put(a *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := a.Clone()
	slices.Sort(c.Files)
	if c.Files == nil {
		c.Files = []string{}
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeFileAtomicDurable(s.path(a.Name), append(data, '\n'), 0o644)
}

func (s *FileStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotInstalled, name)
		}
		return err
	}
	return fsyncDir(s.dir)
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("trailing content after record")
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
