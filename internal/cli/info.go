package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cruciblehq/keg/internal/recipe"
	"github.com/cruciblehq/keg/internal/registry"
	"github.com/cruciblehq/keg/internal/settings"
)

// Represents the 'keg info' command.
type InfoCmd struct {
	Recipe string `arg:"" help:"Recipe file, or name searched in the recipe path."`
	JSON   bool   `help:"Print the recipe and its registry record as JSON."`
}

// Executes the info command.
func (c *InfoCmd) Run(ctx context.Context, s *settings.Settings) error {
	r, err := loadRecipe(c.Recipe, s.RecipePath)
	if err != nil {
		return err
	}

	store, err := registry.NewFileStore(s.Registry)
	if err != nil {
		return err
	}
	installed, err := store.Get(r.Name)
	if err != nil && !errors.Is(err, registry.ErrNotInstalled) {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Recipe    *recipe.Recipe     `json:"recipe"`
			Installed *registry.Artifact `json:"installed,omitempty"`
		}{r, installed})
	}

	fmt.Printf("%s %s\n", r.Name, r.Version)
	if r.Desc != "" {
		fmt.Println(r.Desc)
	}
	if r.Homepage != "" {
		fmt.Println(r.Homepage)
	}
	fmt.Printf("license:  %s\n", r.License)
	fmt.Printf("source:   %s\n", r.URL)
	fmt.Printf("checksum: %s\n", r.SHA256)

	if len(r.DependsOn) > 0 {
		deps := make([]string, len(r.DependsOn))
		for i, d := range r.DependsOn {
			deps[i] = fmt.Sprintf("%s (%s)", d.Name, d.Stage)
		}
		fmt.Printf("depends:  %s\n", strings.Join(deps, ", "))
	}
	fmt.Printf("steps:    %d run, %d install, %d test\n", len(r.RunSteps()), len(r.Outputs()), len(r.Test))

	switch {
	case installed == nil:
		fmt.Println("status:   not installed")
	case installed.Matches(r):
		fmt.Printf("status:   installed in %s\n", displayPath(installed.Prefix))
	default:
		fmt.Printf("status:   %s installed, recipe differs\n", installed.Version)
	}
	return nil
}
