package registry

import (
	"slices"
	"time"

	"github.com/cruciblehq/keg/internal/recipe"
	"github.com/opencontainers/go-digest"
)

// The record of an installed package.
//
// Files are relative to Prefix, slash-separated and sorted. Recipe is a
// snapshot of the recipe the package was built from, kept so that tests
// can be re-run and upgrades can be detected after the recipe file
// changes.
type Artifact struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	SHA256      digest.Digest  `json:"sha256"`
	License     string         `json:"license"`
	Prefix      string         `json:"prefix"`
	Files       []string       `json:"files"`
	Recipe      *recipe.Recipe `json:"recipe"`
	InstalledAt time.Time      `json:"installed_at"`
}

// Reports whether file, relative to the prefix, belongs to the artifact.
func (a *Artifact) Owns(file string) bool {
	_, found := slices.BinarySearch(a.Files, file)
	return found
}

// Reports whether a was built from the same name, version and source as r.
func (a *Artifact) Matches(r *recipe.Recipe) bool {
	return a.Name == r.Name && a.Version == r.Version && a.SHA256 == r.SHA256
}

// Returns a copy that shares no slices with a.
func (a *Artifact) Clone() *Artifact {
	c := *a
	c.Files = slices.Clone(a.Files)
	return &c
}
