package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cruciblehq/keg/internal/settings"
)

// Represents the 'keg fetch' command.
type FetchCmd struct {
	Recipes []string `arg:"" name:"recipe" help:"Recipe files, or names searched in the recipe path."`
}

// Executes the fetch command.
//
// Sources are downloaded into the cache and verified; nothing is built.
func (c *FetchCmd) Run(ctx context.Context, s *settings.Settings) error {
	recipes, err := loadRecipes(c.Recipes, s.RecipePath)
	if err != nil {
		return err
	}

	s.Runner = settings.RunnerHost
	w, err := openWorkspace(s, BuildFlags{})
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			slog.Warn("cleanup failed", "error", err)
		}
	}()

	for _, r := range recipes {
		path, err := w.executor.Fetch(ctx, r)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
		fmt.Printf("%s %s: %s\n", r.Name, r.Version, displayPath(path))
	}
	return nil
}
