package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/cruciblehq/keg/internal"
	"github.com/cruciblehq/keg/internal/protocol"
	"github.com/cruciblehq/keg/internal/registry"
)

// Handles an install command.
//
// Recipes are validated before any runs. Execution failures are reported
// inside the per-recipe results, not as an error response.
func (s *Server) handleInstall(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.InstallRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}
	for _, r := range req.Recipes {
		if err := r.Validate(); err != nil {
			s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
			return
		}
	}

	results, err := s.executor.InstallAll(ctx, req.Recipes)
	if err != nil {
		slog.Warn("install finished with failures", "error", err)
	}

	s.respond(conn, protocol.CmdOK, &protocol.InstallResult{Results: results})
}

// Handles an uninstall command. Names are removed in order; the first
// failure stops the rest.
func (s *Server) handleUninstall(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.UninstallRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	removed := make([]*registry.Artifact, 0, len(req.Names))
	for _, name := range req.Names {
		a, err := s.executor.Uninstall(ctx, name)
		if err != nil {
			s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
			return
		}
		removed = append(removed, a)
	}

	s.respond(conn, protocol.CmdOK, &protocol.UninstallResult{Removed: removed})
}

// Handles a test command.
func (s *Server) handleTest(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.TestRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	res, err := s.executor.Test(ctx, req.Name)
	if res == nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	s.respond(conn, protocol.CmdOK, &protocol.TestResult{Result: res})
}

// Handles a list command.
func (s *Server) handleList(conn net.Conn) {
	artifacts, err := s.store.List()
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}
	s.respond(conn, protocol.CmdOK, &protocol.ListResult{Artifacts: artifacts})
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	uptime := time.Since(s.startedAt).Truncate(time.Second)

	s.mu.Lock()
	requests := s.requests
	s.mu.Unlock()

	status := &protocol.StatusResult{
		Running:  true,
		Version:  internal.VersionString(),
		Pid:      os.Getpid(),
		Uptime:   uptime.String(),
		Started:  s.startedAt,
		Requests: requests,
		Active:   s.executor.Active(),
	}
	if s.metrics != nil {
		status.Executions = s.metrics.Counts()
	}

	s.respond(conn, protocol.CmdOK, status)
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, protocol.CmdOK, nil)
	slog.Info("shutdown requested")

	go func() {
		s.Stop()
	}()
}
