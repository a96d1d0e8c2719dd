package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cruciblehq/keg/internal/protocol"
	"github.com/cruciblehq/keg/internal/settings"
)

// Represents the 'keg uninstall' command.
type UninstallCmd struct {
	Names  []string `arg:"" name:"name" help:"Installed package names."`
	Remote bool     `help:"Send the request to a running daemon."`
}

// Executes the uninstall command. Every name is attempted; failures are
// reported together.
func (c *UninstallCmd) Run(ctx context.Context, s *settings.Settings) error {
	if c.Remote {
		res, err := protocol.Call[protocol.UninstallResult](ctx, s.Socket, protocol.CmdUninstall,
			&protocol.UninstallRequest{Names: c.Names})
		if err != nil {
			return err
		}
		for _, a := range res.Removed {
			fmt.Printf("removed %s %s\n", a.Name, a.Version)
		}
		return nil
	}

	// Uninstalling runs nothing, so the host runner always suffices.
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

	var errs []error
	for _, name := range c.Names {
		a, err := w.executor.Uninstall(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		fmt.Printf("removed %s %s (%d files)\n", a.Name, a.Version, len(a.Files))
	}
	return errors.Join(errs...)
}
