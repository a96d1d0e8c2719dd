package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/cruciblehq/keg/internal/build"
	"github.com/cruciblehq/keg/internal/protocol"
	"github.com/cruciblehq/keg/internal/settings"
)

// Represents the 'keg test' command.
type TestCmd struct {
	Name   string `arg:"" help:"Installed package name."`
	Runner string `help:"Where test commands run: host or containerd." placeholder:"RUNNER"`
	Remote bool   `help:"Send the request to a running daemon."`
}

// Executes the test command.
func (c *TestCmd) Run(ctx context.Context, s *settings.Settings) error {
	flags := BuildFlags{Runner: c.Runner}
	if err := flags.apply(s); err != nil {
		return err
	}

	var res *build.Result
	if c.Remote {
		out, err := protocol.Call[protocol.TestResult](ctx, s.Socket, protocol.CmdTest, &protocol.TestRequest{Name: c.Name})
		if err != nil {
			return err
		}
		res = out.Result
	} else {
		w, err := openWorkspace(s, flags)
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				slog.Warn("cleanup failed", "error", err)
			}
		}()

		res, err = w.executor.Test(ctx, c.Name)
		if res == nil {
			return err
		}
	}

	results := []*build.Result{res}
	printResults(os.Stdout, results)
	return resultsError(results, joinResultErrors(results))
}
