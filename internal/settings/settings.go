// Package settings loads keg's configuration.
//
// Values are layered: built-in defaults, then the YAML config file, then
// KEG_* environment variables. Command-line flags are applied last by the
// CLI, which owns them.
//
//	prefix: /opt/keg
//	jobs: 4
//	step_timeout: 30m
//	runner: containerd
//	containerd:
//	  address: /run/containerd/containerd.sock
//	  image: docker.io/library/debian:bookworm
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cruciblehq/keg/internal/paths"
	"gopkg.in/yaml.v3"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Step runners the CLI can construct.
const (
	RunnerHost       = "host"
	RunnerContainerd = "containerd"
)

// Prefix of every environment variable read by [Load].
const envPrefix = "KEG_"

// Complete keg configuration.
type Settings struct {
	Prefix          string        `yaml:"prefix" env:"PREFIX"`
	Registry        string        `yaml:"registry" env:"REGISTRY"`
	Downloads       string        `yaml:"downloads" env:"DOWNLOADS"`
	Builds          string        `yaml:"builds" env:"BUILDS"`
	RecipePath      []string      `yaml:"recipe_path" env:"RECIPE_PATH" envSeparator:":"`
	Jobs            int           `yaml:"jobs" env:"JOBS"`
	StepTimeout     time.Duration `yaml:"step_timeout" env:"STEP_TIMEOUT"`
	FetchRetries    int           `yaml:"fetch_retries" env:"FETCH_RETRIES"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT"`
	AllowSystemDeps bool          `yaml:"allow_system_deps" env:"ALLOW_SYSTEM_DEPS"`
	Runner          string        `yaml:"runner" env:"RUNNER"`
	Containerd      Containerd    `yaml:"containerd" envPrefix:"CONTAINERD_"`
	MetricsFile     string        `yaml:"metrics_file" env:"METRICS_FILE"`
	Socket          string        `yaml:"socket" env:"SOCKET"`
}

// Settings of the containerd step runner.
type Containerd struct {
	Address     string `yaml:"address" env:"ADDRESS"`
	Namespace   string `yaml:"namespace" env:"NAMESPACE"`
	Image       string `yaml:"image" env:"IMAGE"`
	Snapshotter string `yaml:"snapshotter" env:"SNAPSHOTTER"`
}

// Returns the built-in defaults.
func Defaults() *Settings {
	return &Settings{
		Prefix:       paths.Prefix(),
		Registry:     paths.Registry(),
		Downloads:    paths.Downloads(),
		Builds:       paths.Builds(),
		RecipePath:   paths.RecipeDirs(),
		Jobs:         runtime.NumCPU(),
		StepTimeout:  time.Hour,
		FetchRetries: 3,
		FetchTimeout: 10 * time.Minute,
		Runner:       RunnerHost,
		Containerd: Containerd{
			Address:   "/run/containerd/containerd.sock",
			Namespace: "keg",
			Image:     "docker.io/library/debian:bookworm",
		},
		Socket: paths.Socket(),
	}
}

// Loads settings from the config file at path and the environment.
//
// An empty path reads the default config file, which may be absent. A path
// given explicitly must exist. Unknown keys in the file are errors.
func Load(path string) (*Settings, error) {
	s := Defaults()

	explicit := path != ""
	if !explicit {
		path = paths.ConfigFile()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := s.decode(data); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSettings, path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	if err := env.ParseWithOptions(s, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("%w: environment: %w", ErrInvalidSettings, err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Checks for values no component can work with.
func (s *Settings) Validate() error {
	var errs []error
	if s.Prefix == "" {
		errs = append(errs, errors.New("prefix is required"))
	}
	if s.Jobs < 1 {
		errs = append(errs, fmt.Errorf("jobs must be at least 1, got %d", s.Jobs))
	}
	if s.StepTimeout < 0 {
		errs = append(errs, fmt.Errorf("step_timeout must not be negative, got %s", s.StepTimeout))
	}
	if s.FetchRetries < 0 {
		errs = append(errs, fmt.Errorf("fetch_retries must not be negative, got %d", s.FetchRetries))
	}
	if !slices.Contains([]string{RunnerHost, RunnerContainerd}, s.Runner) {
		errs = append(errs, fmt.Errorf("runner must be %q or %q, got %q", RunnerHost, RunnerContainerd, s.Runner))
	}
	if s.Runner == RunnerContainerd && s.Containerd.Image == "" {
		errs = append(errs, errors.New("containerd.image is required by the containerd runner"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}
