package build

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cruciblehq/keg/internal/recipe"
	"github.com/cruciblehq/keg/internal/registry"
	"github.com/cruciblehq/keg/internal/runtime"
	"github.com/cruciblehq/keg/internal/source"
	"github.com/opencontainers/go-digest"
)

type handler func(ctx context.Context, cmd runtime.Command) (*runtime.ExecResult, error)

// Runner that dispatches on the program's base name.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []runtime.Command
	scopes   []runtime.Scope
	handlers map[string]handler
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{handlers: make(map[string]handler)}
}

func (f *fakeRunner) on(program string, h handler) *fakeRunner {
	f.handlers[program] = h
	return f
}

func (f *fakeRunner) Open(ctx context.Context, scope runtime.Scope) (runtime.Session, error) {
	f.mu.Lock()
	f.scopes = append(f.scopes, scope)
	f.mu.Unlock()
	return f, nil
}

func (f *fakeRunner) Close(ctx context.Context) error { return nil }

func (f *fakeRunner) Run(ctx context.Context, cmd runtime.Command) (*runtime.ExecResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	h := f.handlers[filepath.Base(cmd.Program)]
	f.mu.Unlock()

	if h == nil {
		return &runtime.ExecResult{ExitCode: 127, Stderr: cmd.Program + ": not found\n"}, nil
	}
	return h(ctx, cmd)
}

func (f *fakeRunner) argvs() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, c := range f.calls {
		out = append(out, c.Argv())
	}
	return out
}

// Succeeds without output.
func succeeds() handler {
	return func(context.Context, runtime.Command) (*runtime.ExecResult, error) {
		return &runtime.ExecResult{}, nil
	}
}

// Exits with code after printing to stderr.
func exits(code int, stderr string) handler {
	return func(context.Context, runtime.Command) (*runtime.ExecResult, error) {
		return &runtime.ExecResult{ExitCode: code, Stderr: stderr}, nil
	}
}

// Acts like make: "clean" does nothing, otherwise every line of the
// Makefile names an executable to create relative to the working directory.
func makes() handler {
	return func(ctx context.Context, cmd runtime.Command) (*runtime.ExecResult, error) {
		if len(cmd.Args) > 0 && cmd.Args[0] == "clean" {
			return &runtime.ExecResult{}, nil
		}
		data, err := os.ReadFile(filepath.Join(cmd.Dir, "Makefile"))
		if err != nil {
			return &runtime.ExecResult{ExitCode: 2, Stderr: "make: *** No targets.  Stop.\n"}, nil
		}
		for _, f := range strings.Fields(string(data)) {
			p := filepath.Join(cmd.Dir, f)
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(p, []byte("#!/bin/sh\n# "+f+"\n"), 0o755); err != nil {
				return nil, err
			}
		}
		return &runtime.ExecResult{Stdout: "cc -o " + strings.TrimSpace(string(data)) + "\n"}, nil
	}
}

// Prints out when the program exists on disk, like an installed binary.
func prints(out string) handler {
	return func(ctx context.Context, cmd runtime.Command) (*runtime.ExecResult, error) {
		if _, err := os.Stat(cmd.Program); err != nil {
			return &runtime.ExecResult{ExitCode: 127, Stderr: err.Error()}, nil
		}
		return &runtime.ExecResult{Stdout: out}, nil
	}
}

// Blocks until the context ends, like a hung build.
func hangs() handler {
	return func(ctx context.Context, cmd runtime.Command) (*runtime.ExecResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// Fetcher serving prepared archives by URL.
type fakeFetcher struct {
	mu      sync.Mutex
	files   map[string]string
	fetches int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{files: make(map[string]string)}
}

func (f *fakeFetcher) Acquire(ctx context.Context, url string, want digest.Digest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	p, ok := f.files[url]
	if !ok {
		return "", &source.HTTPError{URL: url, Status: 404}
	}
	return p, nil
}

func (f *fakeFetcher) Commit(path, url string, want digest.Digest) string { return path }

// Archives belong to the test, never to the executor.
func (f *fakeFetcher) Cached(string) bool { return true }

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// Writes a tar archive with a single top-level directory holding files.
func writeArchive(t *testing.T, top string, files map[string]string) (string, digest.Digest) {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	tw.WriteHeader(&tar.Header{Name: top + "/", Typeflag: tar.TypeDir, Mode: 0o755})
	for name, body := range files {
		tw.WriteHeader(&tar.Header{Name: top + "/" + name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(body))})
		tw.Write([]byte(body))
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	p := filepath.Join(t.TempDir(), top+".tar")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return p, digest.FromBytes(buf.Bytes())
}

// Test fixture: one executor with fakes and temporary directories.
type harness struct {
	t       *testing.T
	prefix  string
	builds  string
	runner  *fakeRunner
	fetcher *fakeFetcher
	store   *registry.MemoryStore
	cfg     Config
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:       t,
		prefix:  filepath.Join(t.TempDir(), "prefix"),
		builds:  filepath.Join(t.TempDir(), "builds"),
		runner:  newFakeRunner(),
		fetcher: newFakeFetcher(),
		store:   registry.NewMemoryStore(),
	}
	h.cfg = Config{Prefix: h.prefix, BuildRoot: h.builds, Jobs: 2}

	// make is provided by an installed package.
	h.store.Put(&registry.Artifact{Name: "make", Version: "4.4", Prefix: filepath.Join(t.TempDir(), "tools")})
	return h
}

func (h *harness) executor() *Executor {
	return New(h.cfg, h.fetcher, h.runner, h.store)
}

// Serves an archive for r and sets r's checksum to match.
func (h *harness) serve(r *recipe.Recipe, files map[string]string) {
	p, sum := writeArchive(h.t, r.Name+"-"+r.Version, files)
	h.fetcher.files[r.URL] = p
	r.SHA256 = sum
}

// Asserts that no build directory is left behind.
func (h *harness) assertNoBuildDirs() {
	h.t.Helper()
	entries, _ := os.ReadDir(h.builds)
	if len(entries) != 0 {
		h.t.Fatalf("build root has %d entries, want 0", len(entries))
	}
}

// Asserts the prefix holds exactly files, as slash paths.
func (h *harness) assertPrefixFiles(files ...string) {
	h.t.Helper()
	var got []string
	filepath.WalkDir(h.prefix, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			rel, _ := filepath.Rel(h.prefix, p)
			got = append(got, filepath.ToSlash(rel))
		}
		return nil
	})
	if strings.Join(got, ",") != strings.Join(files, ",") {
		h.t.Fatalf("prefix files = %v, want %v", got, files)
	}
}

// Recipe shaped like vframetest: make clean, make, install, version test.
func vframetest() *recipe.Recipe {
	r, err := recipe.Load(filepath.Join("..", "recipe", "testdata", "vframetest.yaml"))
	if err != nil {
		panic(err)
	}
	return r
}

func simpleRecipe(name, version string) *recipe.Recipe {
	return &recipe.Recipe{
		Name:    name,
		Version: version,
		URL:     "https://example.com/" + name + "-" + version + ".tar",
		License: "MIT",
		Install: []recipe.Step{
			{Program: "make"},
			{Install: &recipe.Output{Source: name, Dir: "bin"}},
		},
		Test: []recipe.Assertion{{Program: "{{bin}}/" + name, Args: []string{"--version"}, Expect: name + " " + version}},
	}
}
