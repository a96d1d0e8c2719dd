package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/cruciblehq/keg/internal"
	"github.com/cruciblehq/keg/internal/settings"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Represents the root command for keg.
var RootCmd struct {
	Quiet     bool         `short:"q" help:"Suppress informational output."`
	Verbose   bool         `short:"v" help:"Enable verbose output."`
	Debug     bool         `short:"d" help:"Enable debug output."`
	Config    string       `help:"Configuration file." placeholder:"FILE" type:"path"`
	Install   InstallCmd   `cmd:"" help:"Build, install and test recipes."`
	Uninstall UninstallCmd `cmd:"" help:"Remove installed packages."`
	Test      TestCmd      `cmd:"" help:"Run the smoke tests of an installed package."`
	List      ListCmd      `cmd:"" help:"List installed packages."`
	Info      InfoCmd      `cmd:"" help:"Show a recipe and its install status."`
	Fetch     FetchCmd     `cmd:"" help:"Download and verify a recipe's source only."`
	Serve     ServeCmd     `cmd:"" help:"Run the daemon."`
	Version   VersionCmd   `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	parser, err := kong.New(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Builds and installs packages from declarative recipes.\n\nSources are fetched, verified against their checksum, built in an isolated directory, installed into a prefix and smoke tested."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.BindToProvider(loadSettings),
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(os.Args[1:])
	if err != nil {
		var pe *kong.ParseError
		if errors.As(err, &pe) && pe.Context != nil {
			pe.Context.PrintUsage(true)
		}
		return &usageError{err}
	}

	configureLogger()

	return kongCtx.Run()
}

// Loads settings for commands that need them.
func loadSettings() (*settings.Settings, error) {
	s, err := settings.Load(RootCmd.Config)
	if err != nil {
		return nil, err
	}
	slog.Debug("settings", "prefix", s.Prefix, "runner", s.Runner, "jobs", s.Jobs)
	return s, nil
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	internal.SetDebug(RootCmd.Debug || internal.IsDebug())
	internal.SetQuiet(RootCmd.Quiet || internal.IsQuiet())
	internal.SetVerbose(RootCmd.Verbose || internal.IsVerbose())

	slog.SetDefault(NewLogger(os.Stderr))
}

// Creates the logger for w.
//
// The level follows [internal.LogLevel]. Colour is used only when w is a
// terminal, and verbose mode adds source locations.
func NewLogger(w io.Writer) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      internal.LogLevel(),
		AddSource:  internal.IsVerbose(),
		TimeFormat: "15:04:05",
		NoColor:    !isTerminal(w),
	}))
}

// Whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
