// Parses flags, configures logging, and runs keg's commands.
//
// The root command accepts the following flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//	    --config    Configuration file.
//
// Flags override build-time defaults set via linker flags. After parsing, the
// global logger is reconfigured to reflect the final level and verbosity
// before the command runs. Settings are loaded only by commands that need
// them, so "keg version" works with a broken config file.
//
// Every command returns an error that [ExitCode] maps to the process exit
// status: 0 success, 1 usage or other errors, 2 fetch, 3 checksum, 4 build
// (including missing dependencies and timeouts), 5 install, 6 test.
package cli
