package main

import (
	"log/slog"
	"os"

	"github.com/cruciblehq/keg/internal"
	"github.com/cruciblehq/keg/internal/cli"
)

// The entry point for keg.
//
// Initializes logging, displays startup information, and executes the root
// command. The exit status reflects how the command failed; see
// [cli.ExitCode].
func main() {
	slog.SetDefault(cli.NewLogger(os.Stderr))

	slog.Debug("build", "version", internal.VersionString())

	slog.Debug("keg is running",
		"pid", os.Getpid(),
		"cwd", cwd(),
		"args", os.Args,
	)

	if err := cli.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(cli.ExitCode(err))
	}
}

// Returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}
