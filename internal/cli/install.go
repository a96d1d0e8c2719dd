package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/cruciblehq/keg/internal/protocol"
	"github.com/cruciblehq/keg/internal/settings"
)

// Represents the 'keg install' command.
type InstallCmd struct {
	Recipes []string `arg:"" name:"recipe" help:"Recipe files, or names searched in the recipe path."`
	Remote  bool     `help:"Send the request to a running daemon."`
	BuildFlags
}

// Executes the install command.
//
// Independent recipes build concurrently. Every recipe runs to completion
// even when another fails; the exit status reflects the first failure in
// argument order.
func (c *InstallCmd) Run(ctx context.Context, s *settings.Settings) error {
	if err := c.apply(s); err != nil {
		return err
	}
	recipes, err := loadRecipes(c.Recipes, s.RecipePath)
	if err != nil {
		return err
	}

	if c.Remote {
		res, err := protocol.Call[protocol.InstallResult](ctx, s.Socket, protocol.CmdInstall,
			&protocol.InstallRequest{Recipes: recipes})
		if err != nil {
			return err
		}
		printResults(os.Stdout, res.Results)
		return resultsError(res.Results, joinResultErrors(res.Results))
	}

	w, err := openWorkspace(s, c.BuildFlags)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			slog.Warn("cleanup failed", "error", err)
		}
	}()

	results, err := w.executor.InstallAll(ctx, recipes)
	printResults(os.Stdout, results)
	return resultsError(results, err)
}
