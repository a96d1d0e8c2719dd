package runtime

import (
	"context"
	"io"
)

// A program invocation for a [Runner].
type Command struct {
	Program string    // Program name or path. Names are looked up on the effective PATH.
	Args    []string  // Arguments, passed verbatim.
	Dir     string    // Absolute working directory.
	Env     []string  // "KEY=value" overrides applied on top of the runner's base environment.
	Path    []string  // Directories prepended to PATH, in order.
	Output  io.Writer // Optional live copy of stdout and stderr.
}

// Returns the program followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Program}, c.Args...)
}

// Output of a finished command.
type ExecResult struct {
	ExitCode int    // Exit code of the process.
	Stdout   string // Captured standard output.
	Stderr   string // Captured standard error.
}

// Stdout followed by stderr.
func (r *ExecResult) Combined() string {
	return r.Stdout + r.Stderr
}

// Executes commands.
//
// A non-zero exit is reported through [ExecResult.ExitCode], not as an
// error. Errors mean the command could not be started or waited for. When
// ctx ends before the command exits, the process is killed and ctx.Err()
// is returned.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*ExecResult, error)
}

// Host directory made visible inside a sandbox at the same path.
type Bind struct {
	Path     string
	ReadOnly bool
}

// What a session needs access to.
type Scope struct {
	ID    string // Unique identifier, used to name sandbox resources.
	Binds []Bind // Host directories the commands read or write.
}

// A [Runner] bound to one execution. Close releases its resources.
type Session interface {
	Runner
	Close(ctx context.Context) error
}

// Opens sessions.
type Provider interface {
	Open(ctx context.Context, scope Scope) (Session, error)
}
