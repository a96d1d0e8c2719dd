package recipe

import (
	"path/filepath"
	"strings"
)

// Values substituted for placeholders in run and test arguments.
type Vars struct {
	Name      string // {{name}}
	Version   string // {{version}}
	Prefix    string // {{prefix}}; {{bin}} and {{lib}} derive from it.
	BuildPath string // {{buildpath}}, the extracted source root.
}

// Returns vars for r installed under prefix and built in buildPath.
func VarsFor(r *Recipe, prefix, buildPath string) Vars {
	return Vars{Name: r.Name, Version: r.Version, Prefix: prefix, BuildPath: buildPath}
}

// Substitutes placeholders in every element of argv.
//
// Each argument is expanded on its own, so a value containing spaces or
// shell metacharacters stays a single argument.
func (v Vars) Expand(argv []string) []string {
	r := strings.NewReplacer(
		"{{name}}", v.Name,
		"{{version}}", v.Version,
		"{{prefix}}", v.Prefix,
		"{{bin}}", filepath.Join(v.Prefix, "bin"),
		"{{lib}}", filepath.Join(v.Prefix, "lib"),
		"{{buildpath}}", v.BuildPath,
	)

	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}

// Expands placeholders in the values of env.
func (v Vars) ExpandEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, val := range env {
		out[k] = v.Expand([]string{val})[0]
	}
	return out
}
