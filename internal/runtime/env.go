package runtime

import (
	"os"
	"slices"
	"strings"
)

// Host variables passed through to commands run by [Host]. Everything else
// in the caller's environment is dropped.
var hostAllowlist = []string{"PATH", "HOME", "TMPDIR", "LANG", "LC_ALL", "TERM", "USER"}

// Fallback search path when the base environment has none.
const defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Returns the allowlisted subset of the current process environment.
func hostEnv() []string {
	var env []string
	for _, k := range hostAllowlist {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}

// Merges override env vars on top of a base env slice.
//
// Later entries win. Malformed entries without '=' are dropped. The result
// is sorted so that commands see a stable environment.
func mergeEnv(base, overrides []string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, entry := range base {
		if k, v, ok := strings.Cut(entry, "="); ok {
			merged[k] = v
		}
	}
	for _, entry := range overrides {
		if k, v, ok := strings.Cut(entry, "="); ok {
			merged[k] = v
		}
	}

	result := make([]string, 0, len(merged))
	for k, v := range merged {
		result = append(result, k+"="+v)
	}
	slices.Sort(result)
	return result
}

// Returns the environment for cmd: base, then cmd.Env, then cmd.Path
// prepended to PATH.
func commandEnv(base []string, cmd Command) []string {
	env := mergeEnv(base, cmd.Env)
	if len(cmd.Path) == 0 {
		return env
	}

	current := lookupEnv(env, "PATH")
	if current == "" {
		current = defaultPath
	}
	path := strings.Join(append(slices.Clone(cmd.Path), current), string(os.PathListSeparator))
	return mergeEnv(env, []string{"PATH=" + path})
}

// Returns the value of key in a "KEY=value" list.
func lookupEnv(env []string, key string) string {
	for _, entry := range env {
		if k, v, ok := strings.Cut(entry, "="); ok && k == key {
			return v
		}
	}
	return ""
}
