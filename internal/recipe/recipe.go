package recipe

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Matches valid recipe and dependency names.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9+_.@-]*$`)

// Versions are opaque upstream strings such as "3025.10.2", "9e" or "r1234".
var versionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9+_.~-]*$`)

// Directories of the destination prefix that install directives may target.
var installDirs = []string{"bin", "sbin", "lib", "libexec", "include", "share", "etc"}

// Declarative description of how to obtain, build, and install one package.
//
// A Recipe is produced by [Parse] or [Load] and is not modified afterwards.
// Callers that need a variant build a new value rather than mutating a
// shared one.
type Recipe struct {
	Name      string        `json:"name"`                 // Package identifier.
	Desc      string        `json:"desc,omitempty"`       // One-line description.
	Homepage  string        `json:"homepage,omitempty"`   // Project homepage URL.
	URL       string        `json:"url"`                  // Source archive URL.
	SHA256    digest.Digest `json:"sha256"`               // Expected digest of the archive.
	License   string        `json:"license"`              // SPDX identifier or expression.
	Version   string        `json:"version"`              // Declared or URL-derived version.
	DependsOn Dependencies  `json:"depends_on,omitempty"` // Ordered dependencies.
	Install   []Step        `json:"install"`              // Ordered build and install steps.
	Test      []Assertion   `json:"test,omitempty"`       // Ordered post-install assertions.
}

// When a dependency is needed.
type Stage string

const (
	StageBuild   Stage = "build"   // Needed to run install steps only.
	StageTest    Stage = "test"    // Needed to run test assertions only.
	StageRuntime Stage = "runtime" // Needed by the installed package; implies build.
)

// A named dependency and the stage it is needed for.
type Dependency struct {
	Name  string `json:"name"`
	Stage Stage  `json:"stage"`
}

// Ordered list of dependencies.
type Dependencies []Dependency

// Returns the dependencies needed to run install steps.
func (d Dependencies) ForBuild() []Dependency {
	return d.filter(func(s Stage) bool { return s == StageBuild || s == StageRuntime })
}

// Returns the dependencies needed to run test assertions.
func (d Dependencies) ForTest() []Dependency {
	return d.filter(func(s Stage) bool { return s == StageTest || s == StageRuntime })
}

func (d Dependencies) filter(keep func(Stage) bool) []Dependency {
	var out []Dependency
	for _, dep := range d {
		if keep(dep.Stage) {
			out = append(out, dep)
		}
	}
	return out
}

// What a [Step] does.
type StepKind int

const (
	StepModifier StepKind = iota // Persists env or workdir for later steps.
	StepRun                      // Runs a program.
	StepInstall                  // Copies a build output into the prefix.
)

// One entry of a recipe's install procedure.
//
// Exactly one of Program or Install is set for operations. A step with
// neither is a modifier whose Env and Workdir persist for subsequent run
// steps. On a run step, Env and Workdir apply to that step only.
type Step struct {
	Program string            `json:"program,omitempty"` // Program to execute.
	Args    []string          `json:"args,omitempty"`    // Arguments, passed verbatim after placeholder expansion.
	Workdir string            `json:"workdir,omitempty"` // Directory relative to the source root.
	Env     map[string]string `json:"env,omitempty"`     // Environment overrides.
	Install *Output           `json:"install,omitempty"` // Install directive.
}

// Returns the kind of the step.
func (s Step) Kind() StepKind {
	switch {
	case s.Install != nil:
		return StepInstall
	case s.Program != "":
		return StepRun
	default:
		return StepModifier
	}
}

// Returns the program followed by its arguments.
func (s Step) Argv() []string {
	return append([]string{s.Program}, s.Args...)
}

// A build output to copy into the destination prefix.
type Output struct {
	Source string      `json:"source"`         // Path relative to the source root.
	Dir    string      `json:"dir"`            // Prefix subdirectory, e.g. "bin".
	Name   string      `json:"name,omitempty"` // Installed name; defaults to the source base name.
	Mode   os.FileMode `json:"mode,omitempty"` // Permission override; zero preserves the source mode.
}

// Returns the destination path relative to the prefix.
func (o Output) Target() string {
	name := o.Name
	if name == "" {
		name = path.Base(o.Source)
	}
	return path.Join(o.Dir, name)
}

// A smoke test: run a command, expect a substring in its output and the
// command to exit with Status.
type Assertion struct {
	Program string   `json:"program"`
	Args    []string `json:"args,omitempty"`
	Expect  string   `json:"expect"`
	Status  int      `json:"status,omitempty"` // Expected exit status, 0 unless declared.
}

// Returns the program followed by its arguments.
func (a Assertion) Argv() []string {
	return append([]string{a.Program}, a.Args...)
}

// Returns the run steps in declared order.
func (r *Recipe) RunSteps() []Step {
	var out []Step
	for _, s := range r.Install {
		if s.Kind() != StepInstall {
			out = append(out, s)
		}
	}
	return out
}

// Returns the install directives in declared order.
func (r *Recipe) Outputs() []Output {
	var out []Output
	for _, s := range r.Install {
		if s.Kind() == StepInstall {
			out = append(out, *s.Install)
		}
	}
	return out
}

// Returns "name version", used in logs and messages.
func (r *Recipe) String() string {
	return r.Name + " " + r.Version
}

// Checks the recipe for structural problems.
//
// All problems are reported at once, joined, and wrapped with
// [ErrInvalidRecipe].
func (r *Recipe) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !namePattern.MatchString(r.Name) {
		add("name %q is not a valid package name", r.Name)
	}
	if err := validateURL(r.URL, "http", "https", "file"); err != nil {
		add("url: %w", err)
	}
	if r.Homepage != "" {
		if err := validateURL(r.Homepage, "http", "https"); err != nil {
			add("homepage: %w", err)
		}
	}
	if err := r.SHA256.Validate(); err != nil || r.SHA256.Algorithm() != digest.SHA256 {
		add("sha256 must be 64 hexadecimal characters")
	}
	if strings.TrimSpace(r.License) == "" {
		add("license is required")
	}
	if r.Version == "" {
		add("version is missing and cannot be derived from %q", r.URL)
	} else if !versionPattern.MatchString(r.Version) {
		add("version %q contains characters not allowed in a version", r.Version)
	}

	seen := make(map[string]bool)
	for _, dep := range r.DependsOn {
		switch {
		case !namePattern.MatchString(dep.Name):
			add("depends_on: %q is not a valid package name", dep.Name)
		case dep.Name == r.Name:
			add("depends_on: package depends on itself")
		case seen[dep.Name]:
			add("depends_on: %q listed twice", dep.Name)
		}
		seen[dep.Name] = true
	}

	if len(r.Install) == 0 {
		add("install: at least one step is required")
	}
	for i, s := range r.Install {
		if err := validateStep(s); err != nil {
			add("install step %d: %w", i+1, err)
		}
	}
	for i, a := range r.Test {
		if a.Program == "" {
			add("test %d: run is required", i+1)
		}
		if a.Expect == "" {
			add("test %d: expect is required", i+1)
		}
		if a.Status < 0 || a.Status > 255 {
			add("test %d: status %d out of range 0-255", i+1, a.Status)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s: %w", ErrInvalidRecipe, r.Name, errors.Join(errs...))
	}
	return nil
}

func validateStep(s Step) error {
	if s.Workdir != "" && !isLocalPath(s.Workdir) {
		return fmt.Errorf("workdir %q must be a relative path inside the source tree", s.Workdir)
	}
	for k := range s.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return fmt.Errorf("invalid environment variable name %q", k)
		}
	}
	if s.Install == nil {
		return nil
	}
	o := s.Install
	if !slices.Contains(installDirs, o.Dir) {
		return fmt.Errorf("unknown install directory %q", o.Dir)
	}
	if !isLocalPath(o.Source) {
		return fmt.Errorf("source %q must be a relative path inside the source tree", o.Source)
	}
	if o.Name != "" && (strings.ContainsRune(o.Name, '/') || o.Name == "." || o.Name == "..") {
		return fmt.Errorf("install name %q must be a plain file name", o.Name)
	}
	return nil
}

// Reports whether p is relative and stays below its root after cleaning.
func isLocalPath(p string) bool {
	if p == "" || path.IsAbs(p) {
		return false
	}
	clean := path.Clean(p)
	return clean != ".." && !strings.HasPrefix(clean, "../")
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("scheme %q not supported in %q", u.Scheme, raw)
	}
	if u.Scheme != "file" && u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	if u.Scheme == "file" && u.Path == "" {
		return fmt.Errorf("missing path in %q", raw)
	}
	return nil
}
