// Package protocol defines the messages exchanged with the keg daemon.
//
// Each connection carries one exchange: the client writes a single
// newline-terminated JSON envelope and the daemon answers with one envelope
// carrying [CmdOK] or [CmdError].
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cruciblehq/keg/internal/build"
	"github.com/cruciblehq/keg/internal/recipe"
	"github.com/cruciblehq/keg/internal/registry"
)

var ErrProtocol = errors.New("protocol error")

// Identifies a request or response.
type Command string

const (
	CmdInstall   Command = "install"
	CmdUninstall Command = "uninstall"
	CmdTest      Command = "test"
	CmdList      Command = "list"
	CmdStatus    Command = "status"
	CmdShutdown  Command = "shutdown"

	CmdOK    Command = "ok"
	CmdError Command = "error"
)

// Wire form of every message.
type Envelope struct {
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Installs recipes, concurrently when there are several. Build options
// are the daemon's own.
type InstallRequest struct {
	Recipes []*recipe.Recipe `json:"recipes"`
}

type InstallResult struct {
	Results []*build.Result `json:"results"`
}

type UninstallRequest struct {
	Names []string `json:"names"`
}

type UninstallResult struct {
	Removed []*registry.Artifact `json:"removed"`
}

type TestRequest struct {
	Name string `json:"name"`
}

type TestResult struct {
	Result *build.Result `json:"result"`
}

type ListResult struct {
	Artifacts []*registry.Artifact `json:"artifacts"`
}

// Daemon state reported by [CmdStatus].
type StatusResult struct {
	Running    bool                  `json:"running"`
	Version    string                `json:"version"`
	Pid        int                   `json:"pid"`
	Uptime     string                `json:"uptime"`
	Started    time.Time             `json:"started"`
	Requests   int                   `json:"requests"`
	Active     []build.Progress      `json:"active"`
	Executions map[build.Outcome]int `json:"executions"`
}

// Payload of [CmdError]. Outcome is set when a recipe execution failed, so
// the client can choose its exit code.
type ErrorResult struct {
	Message string        `json:"message"`
	Outcome build.Outcome `json:"outcome,omitempty"`
}

// Marshals a command and its payload into one envelope. A nil payload is
// omitted.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Command: cmd}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		env.Payload = data
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return data, nil
}

// Unmarshals an envelope, returning it and its raw payload.
func Decode(data []byte) (*Envelope, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if env.Command == "" {
		return nil, nil, fmt.Errorf("%w: missing command", ErrProtocol)
	}
	return &env, env.Payload, nil
}

// Unmarshals a payload into T.
func DecodePayload[T any](payload json.RawMessage) (*T, error) {
	var v T
	if len(payload) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return &v, nil
}
