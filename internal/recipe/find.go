package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolves a recipe argument to a file path.
//
// An argument naming an existing file, or containing a path separator or a
// YAML extension, is taken as a path. Anything else is a package name looked
// up as <dir>/<name>.yaml or <dir>/<name>.yml in dirs, in order.
func Find(arg string, dirs []string) (string, error) {
	if looksLikePath(arg) {
		if _, err := os.Stat(arg); err != nil {
			return "", fmt.Errorf("%w: %w", ErrRecipeNotFound, err)
		}
		return arg, nil
	}

	for _, dir := range dirs {
		for _, ext := range []string{".yaml", ".yml"} {
			p := filepath.Join(dir, arg+ext)
			if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q in %s", ErrRecipeNotFound, arg, strings.Join(dirs, ", "))
}

func looksLikePath(arg string) bool {
	if strings.ContainsRune(arg, filepath.Separator) || strings.ContainsRune(arg, '/') {
		return true
	}
	if ext := filepath.Ext(arg); ext == ".yaml" || ext == ".yml" {
		return true
	}
	info, err := os.Stat(arg)
	return err == nil && info.Mode().IsRegular()
}
