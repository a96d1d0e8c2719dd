package recipe

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const validRecipe = `
name: hello
desc: Greets
homepage: https://example.com/hello
url: https://example.com/hello-1.2.3.tar.gz
sha256: 0000000000000000000000000000000000000000000000000000000000000000
license: MIT
install:
  - run: [make]
  - bin: hello
`

func TestLoadVframetest(t *testing.T) {
	r, err := Load(filepath.Join("testdata", "vframetest.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if r.Name != "vframetest" {
		t.Fatalf("name = %q, want vframetest", r.Name)
	}
	if r.Version != "3025.10.2" {
		t.Fatalf("version = %q, want 3025.10.2", r.Version)
	}
	if got := r.SHA256.Encoded(); got != "ce5a35cc0cec5fdc3de32615fd3aa2769ca11c7aa9ff534d33a2205fbe573f94" {
		t.Fatalf("sha256 = %q", got)
	}
	if r.License != "GPL-2.0-or-later" {
		t.Fatalf("license = %q", r.License)
	}

	wantDeps := Dependencies{{Name: "make", Stage: StageBuild}}
	if !reflect.DeepEqual(r.DependsOn, wantDeps) {
		t.Fatalf("depends_on = %+v, want %+v", r.DependsOn, wantDeps)
	}

	steps := r.RunSteps()
	if len(steps) != 2 {
		t.Fatalf("len(RunSteps) = %d, want 2", len(steps))
	}
	if got := steps[0].Argv(); !reflect.DeepEqual(got, []string{"make", "clean"}) {
		t.Fatalf("step 0 = %v, want [make clean]", got)
	}
	if got := steps[1].Argv(); !reflect.DeepEqual(got, []string{"make"}) {
		t.Fatalf("step 1 = %v, want [make]", got)
	}

	outputs := r.Outputs()
	if len(outputs) != 1 {
		t.Fatalf("len(Outputs) = %d, want 1", len(outputs))
	}
	if outputs[0].Target() != "bin/vframetest" {
		t.Fatalf("target = %q, want bin/vframetest", outputs[0].Target())
	}

	if len(r.Test) != 1 {
		t.Fatalf("len(Test) = %d, want 1", len(r.Test))
	}
	if r.Test[0].Status != 0 {
		t.Fatalf("status = %d, want 0", r.Test[0].Status)
	}
	if r.Test[0].Expect != "vframetest 3025.10.2" {
		t.Fatalf("expect = %q", r.Test[0].Expect)
	}
	if got := r.Test[0].Argv(); !reflect.DeepEqual(got, []string{"{{bin}}/vframetest", "--version"}) {
		t.Fatalf("test argv = %v", got)
	}
}

func TestParseDependencyOrderPreserved(t *testing.T) {
	src := validRecipe + `
depends_on:
  zlib: runtime
  pkg-config: :build
  make: build
  cmocka: test
`
	r, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var names []string
	for _, d := range r.DependsOn {
		names = append(names, d.Name)
	}
	if !reflect.DeepEqual(names, []string{"zlib", "pkg-config", "make", "cmocka"}) {
		t.Fatalf("order = %v", names)
	}
	if r.DependsOn[1].Stage != StageBuild {
		t.Fatalf("pkg-config stage = %q, want build", r.DependsOn[1].Stage)
	}

	var build []string
	for _, d := range r.DependsOn.ForBuild() {
		build = append(build, d.Name)
	}
	if !reflect.DeepEqual(build, []string{"zlib", "pkg-config", "make"}) {
		t.Fatalf("ForBuild = %v", build)
	}

	var test []string
	for _, d := range r.DependsOn.ForTest() {
		test = append(test, d.Name)
	}
	if !reflect.DeepEqual(test, []string{"zlib", "cmocka"}) {
		t.Fatalf("ForTest = %v", test)
	}
}

func TestParseDependencySequence(t *testing.T) {
	src := validRecipe + `
depends_on:
  - zlib
  - make: build
`
	r, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Dependencies{{Name: "zlib", Stage: StageRuntime}, {Name: "make", Stage: StageBuild}}
	if !reflect.DeepEqual(r.DependsOn, want) {
		t.Fatalf("depends_on = %+v, want %+v", r.DependsOn, want)
	}
}

func TestParseStepForms(t *testing.T) {
	src := strings.Replace(validRecipe, `  - run: [make]
  - bin: hello
`, `  - env: {CC: cc}
  - run: [make, "PREFIX={{prefix}}"]
    workdir: src
    env: {CFLAGS: -O2}
  - run: ./configure
  - install: out/libhello.so
    dir: lib
    as: libhello.so.1
    mode: "0644"
  - share: docs/hello.1
`, 1)

	r, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(r.Install) != 5 {
		t.Fatalf("len(Install) = %d, want 5", len(r.Install))
	}

	kinds := []StepKind{StepModifier, StepRun, StepRun, StepInstall, StepInstall}
	for i, s := range r.Install {
		if s.Kind() != kinds[i] {
			t.Errorf("step %d kind = %v, want %v", i, s.Kind(), kinds[i])
		}
	}

	run := r.Install[1]
	if run.Workdir != "src" || run.Env["CFLAGS"] != "-O2" {
		t.Fatalf("run step = %+v", run)
	}
	if !reflect.DeepEqual(run.Args, []string{"PREFIX={{prefix}}"}) {
		t.Fatalf("args = %v", run.Args)
	}

	if r.Install[2].Program != "./configure" || len(r.Install[2].Args) != 0 {
		t.Fatalf("scalar run = %+v, want program only", r.Install[2])
	}

	lib := r.Install[3].Install
	if lib.Dir != "lib" || lib.Name != "libhello.so.1" || lib.Mode != 0o644 {
		t.Fatalf("long install = %+v", lib)
	}
	if lib.Target() != "lib/libhello.so.1" {
		t.Fatalf("target = %q", lib.Target())
	}

	if got := r.Install[4].Install.Target(); got != "share/hello.1" {
		t.Fatalf("share target = %q", got)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		edit func(string) string
		want string
	}{
		{
			name: "bad name",
			edit: func(s string) string { return strings.Replace(s, "name: hello", "name: Hello World", 1) },
			want: "not a valid package name",
		},
		{
			name: "short checksum",
			edit: func(s string) string {
				return strings.Replace(s, "0000000000000000000000000000000000000000000000000000000000000000", "abc", 1)
			},
			want: "sha256",
		},
		{
			name: "missing license",
			edit: func(s string) string { return strings.Replace(s, "license: MIT", "", 1) },
			want: "license is required",
		},
		{
			name: "unversioned url",
			edit: func(s string) string {
				return strings.Replace(s, "hello-1.2.3.tar.gz", "hello.tar.gz", 1)
			},
			want: "version is missing",
		},
		{
			name: "ftp url",
			edit: func(s string) string { return strings.Replace(s, "url: https://", "url: ftp://", 1) },
			want: "scheme",
		},
		{
			name: "escaping install source",
			edit: func(s string) string { return strings.Replace(s, "bin: hello", "bin: ../../etc/passwd", 1) },
			want: "inside the source tree",
		},
		{
			name: "absolute workdir",
			edit: func(s string) string {
				return strings.Replace(s, "run: [make]", "run: [make]\n    workdir: /tmp", 1)
			},
			want: "inside the source tree",
		},
		{
			name: "unknown top-level key",
			edit: func(s string) string { return s + "\nbottle: yes\n" },
			want: "bottle",
		},
		{
			name: "unknown step key",
			edit: func(s string) string { return strings.Replace(s, "bin: hello", "opt: hello", 1) },
			want: "unknown install step key",
		},
		{
			name: "run and install together",
			edit: func(s string) string {
				return strings.Replace(s, "  - bin: hello", "  - bin: hello\n    run: [echo]", 1)
			},
			want: "cannot both run",
		},
		{
			name: "self dependency",
			edit: func(s string) string { return s + "depends_on:\n  hello: build\n" },
			want: "depends on itself",
		},
		{
			name: "bad stage",
			edit: func(s string) string { return s + "depends_on:\n  make: optional\n" },
			want: "unknown dependency stage",
		},
		{
			name: "test without expect",
			edit: func(s string) string { return s + "test:\n  - run: [hello]\n" },
			want: "expect is required",
		},
		{
			name: "version with spaces",
			edit: func(s string) string { return s + "version: 1.0 final\n" },
			want: "not allowed in a version",
		},
		{
			name: "negative status",
			edit: func(s string) string { return s + "test:\n  - run: [hello]\n    expect: hi\n    status: -1\n" },
			want: "out of range",
		},
		{
			name: "non-integer status",
			edit: func(s string) string { return s + "test:\n  - run: [hello]\n    expect: hi\n    status: failure\n" },
			want: "status must be an integer",
		},
		{
			name: "no steps",
			edit: func(s string) string {
				return strings.Replace(s, "  - run: [make]\n  - bin: hello\n", "  []\n", 1)
			},
			want: "at least one step",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.edit(validRecipe)))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrInvalidRecipe) {
				t.Fatalf("error %v does not wrap ErrInvalidRecipe", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	r := &Recipe{Name: "x", URL: "https://example.com/x-1.0.tar.gz", Version: "1.0"}
	err := r.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"sha256", "license", "at least one step"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestParseUpstreamVersions(t *testing.T) {
	for _, v := range []string{"9e", "r1234", "2024-01-15", "1.2.3+ds~1"} {
		t.Run(v, func(t *testing.T) {
			r, err := Parse([]byte(validRecipe + "version: " + v + "\n"))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if r.Version != v {
				t.Fatalf("version = %q, want %q", r.Version, v)
			}
		})
	}
}

func TestParseTestStatus(t *testing.T) {
	r, err := Parse([]byte(validRecipe + "test:\n  - run: [hello, --bad-flag]\n    expect: usage\n    status: 2\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Test[0].Status != 2 {
		t.Fatalf("status = %d, want 2", r.Test[0].Status)
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	p := filepath.Join(other, "hello.yml")
	if err := os.WriteFile(p, []byte(validRecipe), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Find("hello", []string{dir, other})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got != p {
		t.Fatalf("Find = %q, want %q", got, p)
	}

	got, err = Find(p, nil)
	if err != nil || got != p {
		t.Fatalf("Find(path) = %q, %v", got, err)
	}

	if _, err := Find("missing", []string{dir}); !errors.Is(err, ErrRecipeNotFound) {
		t.Fatalf("err = %v, want ErrRecipeNotFound", err)
	}
	if _, err := Find(filepath.Join(dir, "nope.yaml"), nil); !errors.Is(err, ErrRecipeNotFound) {
		t.Fatalf("err = %v, want ErrRecipeNotFound", err)
	}
}
