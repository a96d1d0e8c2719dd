package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/cruciblehq/keg/internal/recipe"
	"github.com/opencontainers/go-digest"
)

func sampleArtifact(name string, files ...string) *Artifact {
	return &Artifact{
		Name:        name,
		Version:     "1.0",
		SHA256:      digest.FromString(name),
		License:     "MIT",
		Prefix:      "/opt/keg",
		Files:       files,
		Recipe:      &recipe.Recipe{Name: name, Version: "1.0"},
		InstalledAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func stores(t *testing.T) map[string]Store {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "registry"))
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Store{"memory": NewMemoryStore(), "file": fs}
}

func TestStoreRoundTrip(t *testing.T) {
	for kind, s := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			if _, err := s.Get("hello"); !errors.Is(err, ErrNotInstalled) {
				t.Fatalf("Get on empty store: err = %v, want ErrNotInstalled", err)
			}
			if list, err := s.List(); err != nil || len(list) != 0 {
				t.Fatalf("List on empty store = %v, %v", list, err)
			}

			if err := s.Put(sampleArtifact("hello", "share/hello.1", "bin/hello")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := s.Put(sampleArtifact("abc", "bin/abc")); err != nil {
				t.Fatalf("Put: %v", err)
			}

			got, err := s.Get("hello")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !reflect.DeepEqual(got.Files, []string{"bin/hello", "share/hello.1"}) {
				t.Fatalf("files = %v, want sorted", got.Files)
			}
			if !got.InstalledAt.Equal(sampleArtifact("hello").InstalledAt) {
				t.Fatalf("installed_at = %v", got.InstalledAt)
			}

			list, err := s.List()
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 2 || list[0].Name != "abc" || list[1].Name != "hello" {
				t.Fatalf("List = %v, want [abc hello]", list)
			}

			owner, err := s.Owner("bin/hello")
			if err != nil || owner != "hello" {
				t.Fatalf("Owner = %q, %v, want hello", owner, err)
			}
			if owner, _ := s.Owner("bin/other"); owner != "" {
				t.Fatalf("Owner(unowned) = %q", owner)
			}

			if err := s.Delete("hello"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Delete("hello"); !errors.Is(err, ErrNotInstalled) {
				t.Fatalf("second Delete: err = %v, want ErrNotInstalled", err)
			}
		})
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	for kind, s := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			a := sampleArtifact("hello", "bin/hello")
			if err := s.Put(a); err != nil {
				t.Fatal(err)
			}
			a.Files[0] = "bin/changed"

			got, _ := s.Get("hello")
			got.Files[0] = "bin/mutated"

			again, _ := s.Get("hello")
			if again.Files[0] != "bin/hello" {
				t.Fatalf("stored files = %v", again.Files)
			}
		})
	}
}

func TestStoreConcurrentPut(t *testing.T) {
	for kind, s := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			var wg sync.WaitGroup
			for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := s.Put(sampleArtifact(name, "bin/"+name)); err != nil {
						t.Errorf("Put(%s): %v", name, err)
					}
				}()
			}
			wg.Wait()

			list, err := s.List()
			if err != nil || len(list) != 6 {
				t.Fatalf("List = %d entries, %v, want 6", len(list), err)
			}
		})
	}
}

func TestFileStoreRejectsCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(dir)
	if err := os.WriteFile(filepath.Join(dir, "hello.json"), []byte(`{"name":"hello","bogus":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("hello"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(dir)
	if err := s.Put(sampleArtifact("hello", "bin/hello")); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "hello.json" {
		t.Fatalf("entries = %v", entries)
	}
}

func TestResolver(t *testing.T) {
	store := NewMemoryStore()
	store.Put(sampleArtifact("zlib", "lib/libz.so"))

	r := NewResolver(store, true)
	r.lookPath = func(name string) (string, error) {
		if name == "make" {
			return "/usr/bin/make", nil
		}
		return "", errors.New("not found")
	}

	ctx := context.Background()
	if dir, err := r.Resolve(ctx, "zlib"); err != nil || dir != "/opt/keg/bin" {
		t.Fatalf("Resolve(zlib) = %q, %v", dir, err)
	}
	if dir, err := r.Resolve(ctx, "make"); err != nil || dir != "/usr/bin" {
		t.Fatalf("Resolve(make) = %q, %v", dir, err)
	}

	deps := []recipe.Dependency{
		{Name: "make", Stage: recipe.StageBuild},
		{Name: "cmake", Stage: recipe.StageBuild},
		{Name: "zlib", Stage: recipe.StageRuntime},
		{Name: "ninja", Stage: recipe.StageBuild},
	}
	_, err := r.ResolveAll(ctx, deps)
	var missing *MissingError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want *MissingError", err)
	}
	if !reflect.DeepEqual(missing.Names, []string{"cmake", "ninja"}) {
		t.Fatalf("missing = %v", missing.Names)
	}
	if !errors.Is(err, ErrDependencyNotFound) {
		t.Fatal("MissingError does not wrap ErrDependencyNotFound")
	}

	dirs, err := r.ResolveAll(ctx, deps[:1])
	if err != nil || !reflect.DeepEqual(dirs, []string{"/usr/bin"}) {
		t.Fatalf("ResolveAll = %v, %v", dirs, err)
	}
}

func TestResolverWithoutSystemTools(t *testing.T) {
	r := NewResolver(NewMemoryStore(), false)
	r.lookPath = func(string) (string, error) { return "/usr/bin/make", nil }

	if _, err := r.Resolve(context.Background(), "make"); !errors.Is(err, ErrDependencyNotFound) {
		t.Fatalf("err = %v, want ErrDependencyNotFound", err)
	}
}
