package internal

import (
	"fmt"
	"runtime"
	"strings"
)

const (

	// Program name, used for logging, directories, the CLI and the HTTP
	// user agent.
	Name = "keg"

	// Shown for a build variable the pipeline did not set.
	defaultUndefined = "(undefined)"

	// Shown instead of a version string for builds made outside the pipeline.
	defaultLocalBuild = "(local)"

	// Branch whose builds carry no stage suffix.
	mainBranch = "main"
)

// Set with -ldflags "-X github.com/cruciblehq/keg/internal.<name>=<value>".
var (
	version   = "" // Release number, with or without a leading "v".
	stage     = "" // Branch the release was built from.
	gitCommit = "" // Commit hash.

	rawQuiet   = "false" // Default for -q.
	rawDebug   = "false" // Default for -d.
	rawVerbose = "false" // Default for -v.
)

// Returns the release number without a "v" prefix, or "(undefined)".
func Version() string {
	v := strings.ToLower(strings.TrimSpace(version))
	if v == "" {
		return defaultUndefined
	}
	return strings.TrimPrefix(v, "v")
}

// Returns the lower-cased branch the release was built from, or
// "(undefined)".
func Stage() string {
	s := strings.ToLower(strings.TrimSpace(stage))
	if s == "" {
		return defaultUndefined
	}
	return s
}

// Returns the commit hash, or "(undefined)".
func GitCommit() string {
	c := strings.TrimSpace(gitCommit)
	if c == "" {
		return defaultUndefined
	}
	return c
}

// Returns the architecture keg was compiled for.
func Arch() string {
	return runtime.GOARCH
}

// Reports whether any of the pipeline variables is missing.
func IsLocal() bool {
	for _, v := range []string{version, gitCommit, stage} {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

// Returns "<version>[+<stage>] <commit> [<arch>]", or "(local)".
//
// The stage is omitted for builds of the main branch.
func VersionString() string {
	if IsLocal() {
		return defaultLocalBuild
	}

	suffix := ""
	if s := Stage(); s != mainBranch {
		suffix = "+" + s
	}
	return fmt.Sprintf("%s%s %s [%s]", Version(), suffix, GitCommit(), Arch())
}

// Returns the User-Agent sent with source downloads, e.g.
// "keg/1.4.0 (linux/amd64)". Local builds report "dev".
func UserAgent() string {
	v := "dev"
	if !IsLocal() {
		v = Version()
	}
	return fmt.Sprintf("%s/%s (%s/%s)", Name, v, runtime.GOOS, runtime.GOARCH)
}
