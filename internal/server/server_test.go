package server

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cruciblehq/keg/internal/build"
	"github.com/cruciblehq/keg/internal/metrics"
	"github.com/cruciblehq/keg/internal/protocol"
	"github.com/cruciblehq/keg/internal/recipe"
	"github.com/cruciblehq/keg/internal/registry"
	"github.com/cruciblehq/keg/internal/runtime"
	"github.com/cruciblehq/keg/internal/source"
	"github.com/opencontainers/go-digest"
)

// Writes a source tarball for hello and returns a recipe building it on
// the host.
func helloRecipe(t *testing.T) *recipe.Recipe {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	readme := []byte("hello\n")
	tw.WriteHeader(&tar.Header{Name: "hello-1.0/", Typeflag: tar.TypeDir, Mode: 0o755})
	tw.WriteHeader(&tar.Header{Name: "hello-1.0/README", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(readme))})
	tw.Write(readme)
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(t.TempDir(), "hello-1.0.tar")
	if err := os.WriteFile(archive, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	return &recipe.Recipe{
		Name:    "hello",
		Version: "1.0",
		URL:     "file://" + archive,
		SHA256:  digest.FromBytes(buf.Bytes()),
		License: "MIT",
		Install: []recipe.Step{
			{Program: "sh", Args: []string{"-c", `printf '#!/bin/sh\necho hello 1.0\n' > hello && chmod +x hello`}},
			{Install: &recipe.Output{Source: "hello", Dir: "bin"}},
		},
		Test: []recipe.Assertion{{Program: "{{bin}}/hello", Expect: "hello 1.0"}},
	}
}

func startServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	store := registry.NewMemoryStore()
	m := metrics.New()
	exec := build.New(build.Config{
		Prefix:      filepath.Join(dir, "prefix"),
		BuildRoot:   filepath.Join(dir, "builds"),
		StepTimeout: time.Minute,
		Observer:    m,
	}, source.NewFetcher(source.Config{}), runtime.Host{}, store)

	srv := New(Config{
		SocketPath: filepath.Join(dir, "keg.sock"),
		PIDFile:    filepath.Join(dir, "keg.pid"),
		Executor:   exec,
		Store:      store,
		Metrics:    m,
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func TestServerLifecycle(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	installed, err := protocol.Call[protocol.InstallResult](ctx, srv.socketPath, protocol.CmdInstall,
		&protocol.InstallRequest{Recipes: []*recipe.Recipe{helloRecipe(t)}})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if len(installed.Results) != 1 || installed.Results[0].Outcome != build.OutcomeSuccess {
		t.Fatalf("install results = %+v", installed.Results)
	}

	list, err := protocol.Call[protocol.ListResult](ctx, srv.socketPath, protocol.CmdList, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Artifacts) != 1 || list.Artifacts[0].Name != "hello" {
		t.Fatalf("artifacts = %+v", list.Artifacts)
	}

	tested, err := protocol.Call[protocol.TestResult](ctx, srv.socketPath, protocol.CmdTest, &protocol.TestRequest{Name: "hello"})
	if err != nil {
		t.Fatalf("test: %v", err)
	}
	if tested.Result.Outcome != build.OutcomeSuccess {
		t.Fatalf("test outcome = %s", tested.Result.Outcome)
	}

	status, err := protocol.Call[protocol.StatusResult](ctx, srv.socketPath, protocol.CmdStatus, nil)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running || status.Executions[build.OutcomeSuccess] != 1 || status.Requests != 4 {
		t.Fatalf("status = %+v", status)
	}

	removed, err := protocol.Call[protocol.UninstallResult](ctx, srv.socketPath, protocol.CmdUninstall,
		&protocol.UninstallRequest{Names: []string{"hello"}})
	if err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if len(removed.Removed) != 1 {
		t.Fatalf("removed = %+v", removed.Removed)
	}

	_, err = protocol.Call[protocol.UninstallResult](ctx, srv.socketPath, protocol.CmdUninstall,
		&protocol.UninstallRequest{Names: []string{"hello"}})
	var re *protocol.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("second uninstall err = %v, want RemoteError", err)
	}
}

func TestServerRejectsInvalidRecipe(t *testing.T) {
	srv := startServer(t)

	r := helloRecipe(t)
	r.License = ""
	_, err := protocol.Call[protocol.InstallResult](context.Background(), srv.socketPath, protocol.CmdInstall,
		&protocol.InstallRequest{Recipes: []*recipe.Recipe{r}})
	var re *protocol.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
}

func TestServerUnknownCommand(t *testing.T) {
	srv := startServer(t)

	_, err := protocol.Call[struct{}](context.Background(), srv.socketPath, protocol.Command("reboot"), nil)
	var re *protocol.RemoteError
	if !errors.As(err, &re) || re.Message != "unknown command: reboot" {
		t.Fatalf("err = %v", err)
	}
}

func TestServerShutdown(t *testing.T) {
	srv := startServer(t)

	if _, err := protocol.Call[struct{}](context.Background(), srv.socketPath, protocol.CmdShutdown, nil); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case <-srv.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	if _, err := os.Stat(srv.socketPath); !os.IsNotExist(err) {
		t.Fatalf("socket not removed: %v", err)
	}
	if _, err := os.Stat(srv.pidFile); !os.IsNotExist(err) {
		t.Fatalf("PID file not removed: %v", err)
	}
}
