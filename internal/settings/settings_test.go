package settings

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadLayers(t *testing.T) {
	p := writeConfig(t, `
prefix: /opt/keg
jobs: 2
step_timeout: 45m
runner: containerd
containerd:
  image: alpine:3.20
`)
	t.Setenv("KEG_JOBS", "8")
	t.Setenv("KEG_CONTAINERD_ADDRESS", "/tmp/containerd.sock")
	t.Setenv("KEG_RECIPE_PATH", "/a:/b")

	s, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.Prefix != "/opt/keg" {
		t.Fatalf("Prefix = %q, want /opt/keg", s.Prefix)
	}
	if s.Jobs != 8 {
		t.Fatalf("Jobs = %d, want 8 from the environment", s.Jobs)
	}
	if s.StepTimeout != 45*time.Minute {
		t.Fatalf("StepTimeout = %s, want 45m", s.StepTimeout)
	}
	if s.Containerd.Image != "alpine:3.20" || s.Containerd.Address != "/tmp/containerd.sock" {
		t.Fatalf("Containerd = %+v", s.Containerd)
	}
	if s.Containerd.Namespace != "keg" {
		t.Fatalf("Namespace = %q, want the default", s.Containerd.Namespace)
	}
	if !reflect.DeepEqual(s.RecipePath, []string{"/a", "/b"}) {
		t.Fatalf("RecipePath = %v", s.RecipePath)
	}
	if s.FetchRetries != 3 {
		t.Fatalf("FetchRetries = %d, want the default 3", s.FetchRetries)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("err = %v, want ErrInvalidSettings for an explicit missing file", err)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{"unknown key", "prefixx: /opt\n", nil},
		{"bad duration", "step_timeout: soon\n", nil},
		{"zero jobs", "jobs: 0\n", nil},
		{"unknown runner", "runner: docker\n", nil},
		{"bad env", "", map[string]string{"KEG_JOBS": "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(writeConfig(t, tt.body)); !errors.Is(err, ErrInvalidSettings) {
				t.Fatalf("err = %v, want ErrInvalidSettings", err)
			}
		})
	}
}

func TestDefaultsValid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("Validate = %v", err)
	}
}
