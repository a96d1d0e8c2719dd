package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cruciblehq/keg/internal/build"
	"github.com/cruciblehq/keg/internal/protocol"
	"github.com/cruciblehq/keg/internal/recipe"
	"github.com/cruciblehq/keg/internal/registry"
	"github.com/cruciblehq/keg/internal/settings"
	"github.com/cruciblehq/keg/internal/source"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"usage", &usageError{errors.New("unexpected argument")}, ExitUsage},
		{"other", errors.New("boom"), ExitUsage},
		{"network", fmt.Errorf("%w: reset", source.ErrNetwork), ExitFetch},
		{"http", &source.HTTPError{URL: "u", Status: 404}, ExitFetch},
		{"checksum", &source.ChecksumError{Path: "p"}, ExitChecksum},
		{"dependency", &registry.MissingError{Names: []string{"make"}}, ExitBuild},
		{"step", &build.StepError{Index: 1, ExitCode: 2}, ExitBuild},
		{"timeout", &build.TimeoutError{}, ExitBuild},
		{"conflict", &build.ConflictError{Path: "bin/x"}, ExitInstall},
		{"assertion", &build.AssertionError{}, ExitTest},
		{"outcome", &outcomeError{outcome: build.OutcomeChecksumMismatch, err: errors.New("x")}, ExitChecksum},
		{"remote", &protocol.RemoteError{Message: "x", Outcome: build.OutcomeTestFailed}, ExitTest},
		{"remote without outcome", &protocol.RemoteError{Message: "x"}, ExitUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Fatalf("ExitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOutcomeCodesComplete(t *testing.T) {
	for _, o := range build.Outcomes {
		if _, ok := outcomeCodes[o]; !ok {
			t.Fatalf("outcome %s has no exit code", o)
		}
	}
}

func TestResultsError(t *testing.T) {
	joined := errors.New("bad: build step failed")
	results := []*build.Result{
		{Name: "good", Outcome: build.OutcomeSuccess},
		{Name: "bad", Outcome: build.OutcomeBuildFailed},
		{Name: "worse", Outcome: build.OutcomeTestFailed},
	}

	err := resultsError(results, joined)
	if ExitCode(err) != ExitBuild {
		t.Fatalf("ExitCode = %d, want %d from the first failure", ExitCode(err), ExitBuild)
	}
	if !errors.Is(err, joined) {
		t.Fatal("joined error lost")
	}
	if err := resultsError(results[:1], nil); err != nil {
		t.Fatalf("resultsError = %v, want nil", err)
	}
}

func TestBuildFlagsApply(t *testing.T) {
	s := settings.Defaults()
	if err := (BuildFlags{Jobs: 3, Runner: "containerd"}).apply(s); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.Jobs != 3 || s.Runner != "containerd" {
		t.Fatalf("settings = jobs %d runner %q", s.Jobs, s.Runner)
	}
	if err := (BuildFlags{Runner: "chroot"}).apply(s); !errors.Is(err, settings.ErrInvalidSettings) {
		t.Fatalf("apply = %v, want ErrInvalidSettings", err)
	}
}

func TestLoadRecipes(t *testing.T) {
	dir := t.TempDir()
	data, err := os.ReadFile(filepath.Join("..", "recipe", "testdata", "vframetest.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "vframetest.yaml"), data, 0o644)

	recipes, err := loadRecipes([]string{"vframetest"}, []string{dir})
	if err != nil {
		t.Fatalf("loadRecipes: %v", err)
	}
	if len(recipes) != 1 || recipes[0].Version != "3025.10.2" {
		t.Fatalf("recipes = %+v", recipes)
	}

	_, err = loadRecipes([]string{"missing", "gone"}, []string{dir})
	if !errors.Is(err, recipe.ErrRecipeNotFound) || !strings.Contains(err.Error(), "gone") {
		t.Fatalf("err = %v, want both names not found", err)
	}
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, []*build.Result{
		{Name: "hello", Version: "1.0", Outcome: build.OutcomeSuccess, Duration: 1500 * time.Millisecond},
		{Name: "make", Version: "4.4", Outcome: build.OutcomeSuccess, Skipped: true},
		{Name: "bad", Version: "2", Outcome: build.OutcomeBuildFailed, Error: "build step failed: step 1"},
	})

	out := buf.String()
	for _, want := range []string{"hello", "1.5s", "already installed", "build-failed", "bad: build step failed: step 1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
