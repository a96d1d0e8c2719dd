package registry

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Persistence for installed artifacts.
//
// Implementations must be safe for concurrent use. Put replaces any record
// with the same name.
type Store interface {
	Get(name string) (*Artifact, error)
	List() ([]*Artifact, error)
	Owner(file string) (string, error)
	Put(a *Artifact) error
	Delete(name string) error
}

// Returns the name of the artifact among list that owns file, or "".
func ownerOf(list []*Artifact, file string) string {
	for _, a := range list {
		if a.Owns(file) {
			return a.Name
		}
	}
	return ""
}

func sortArtifacts(list []*Artifact) {
	slices.SortFunc(list, func(a, b *Artifact) int { return strings.Compare(a.Name, b.Name) })
}

// In-memory [Store].
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[string]*Artifact)}
}

func (s *MemoryStore) Get(name string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.artifacts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) List() ([]*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Artifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		list = append(list, a.Clone())
	}
	sortArtifacts(list)
	return list, nil
}

func (s *MemoryStore) Owner(file string) (string, error) {
	list, err := s.List()
	if err != nil {
		return "", err
	}
	return ownerOf(list, file), nil
}

func (s *MemoryStore) Put(a *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := a.Clone()
	slices.Sort(c.Files)
	s.artifacts[a.Name] = c
	return nil
}

func (s *MemoryStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artifacts[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}
	delete(s.artifacts, name)
	return nil
}
