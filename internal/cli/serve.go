package cli

import (
	"context"
	"log/slog"

	"github.com/cruciblehq/keg/internal/server"
	"github.com/cruciblehq/keg/internal/settings"
)

// Represents the 'keg serve' command.
type ServeCmd struct {
	Socket string `short:"s" help:"Override the Unix socket path." placeholder:"PATH"`
	BuildFlags
}

// Executes the serve command.
//
// Starts the daemon on a Unix domain socket and blocks until the context
// is cancelled (e.g. via SIGINT or SIGTERM) or a client requests shutdown.
func (c *ServeCmd) Run(ctx context.Context, s *settings.Settings) error {
	if err := c.apply(s); err != nil {
		return err
	}
	if c.Socket != "" {
		s.Socket = c.Socket
	}

	w, err := openWorkspace(s, c.BuildFlags)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		SocketPath: s.Socket,
		Executor:   w.executor,
		Store:      w.store,
		Metrics:    w.metrics,
		OnStop: func() {
			if err := w.Close(); err != nil {
				slog.Warn("cleanup failed", "error", err)
			}
		},
	})

	if err := srv.Start(); err != nil {
		w.Close()
		return err
	}

	slog.Info("keg is running", "prefix", s.Prefix, "runner", s.Runner)

	select {
	case <-ctx.Done():
	case <-srv.Done():
	}

	slog.Info("shutting down")
	return srv.Stop()
}
