package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cruciblehq/keg/internal/protocol"
	"github.com/cruciblehq/keg/internal/registry"
	"github.com/cruciblehq/keg/internal/settings"
)

// Represents the 'keg list' command.
type ListCmd struct {
	JSON   bool `help:"Print the registry records as JSON."`
	Remote bool `help:"Ask a running daemon."`
}

// Executes the list command.
func (c *ListCmd) Run(ctx context.Context, s *settings.Settings) error {
	var artifacts []*registry.Artifact
	if c.Remote {
		res, err := protocol.Call[protocol.ListResult](ctx, s.Socket, protocol.CmdList, nil)
		if err != nil {
			return err
		}
		artifacts = res.Artifacts
	} else {
		store, err := registry.NewFileStore(s.Registry)
		if err != nil {
			return err
		}
		if artifacts, err = store.List(); err != nil {
			return err
		}
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if artifacts == nil {
			artifacts = []*registry.Artifact{}
		}
		return enc.Encode(artifacts)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tFILES\tINSTALLED\tPREFIX")
	for _, a := range artifacts {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			a.Name, a.Version, len(a.Files), a.InstalledAt.Local().Format("2006-01-02 15:04"), displayPath(a.Prefix))
	}
	return tw.Flush()
}
