package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	appName = "keg"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory for runtime files (sockets, PIDs).
//
//	Linux:   $XDG_RUNTIME_DIR/keg or /run/user/<uid>/keg
//	macOS:   ~/Library/Caches/keg/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, appName)
	}
	return filepath.Join(xdg.CacheHome, appName, "run")
}

// Default path to the Unix domain socket served by "keg serve".
func Socket() string {
	return filepath.Join(Runtime(), "keg.sock")
}

// Default path to the daemon PID file.
func PIDFile() string {
	return filepath.Join(Runtime(), "keg.pid")
}

// Default path to the configuration file.
//
//	Linux:   $XDG_CONFIG_HOME/keg/config.yaml
//	macOS:   ~/Library/Application Support/keg/config.yaml
func ConfigFile() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

// Default directories searched for recipes given by name.
//
// The user's config directory comes first so that local recipes shadow
// shared ones.
func RecipeDirs() []string {
	dirs := []string{filepath.Join(xdg.ConfigHome, appName, "recipes")}
	for _, d := range xdg.DataDirs {
		dirs = append(dirs, filepath.Join(d, appName, "recipes"))
	}
	return dirs
}

// Default destination root for installed packages.
//
//	Linux:   $XDG_DATA_HOME/keg/prefix
func Prefix() string {
	return filepath.Join(xdg.DataHome, appName, "prefix")
}

// Directory holding one JSON record per installed package.
func Registry() string {
	return filepath.Join(xdg.DataHome, appName, "registry")
}

// Directory holding verified source archives.
//
//	Linux:   $XDG_CACHE_HOME/keg/downloads
func Downloads() string {
	return filepath.Join(xdg.CacheHome, appName, "downloads")
}

// Directory under which build environments are created.
//
//	Linux:   $XDG_STATE_HOME/keg/builds
func Builds() string {
	return filepath.Join(xdg.StateHome, appName, "builds")
}
