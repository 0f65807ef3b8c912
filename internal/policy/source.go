package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"canon/pkg/platform/sentinel"
)

// MemorySource holds group policies and actor assignments in memory. It
// serves both the policy lookup and the group resolver ports.
type MemorySource struct {
	mu       sync.RWMutex
	policies map[string]bool
	actors   map[string]string
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		policies: make(map[string]bool),
		actors:   make(map[string]string),
	}
}

// SetPolicy records whether a group requires verified identities.
func (s *MemorySource) SetPolicy(groupID string, requiresVerification bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[groupID] = requiresVerification
}

// Assign places an actor in a group.
func (s *MemorySource) Assign(actorRef, groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actors[actorRef] = groupID
}

func (s *MemorySource) RequiresVerification(ctx context.Context, groupID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	requires, ok := s.policies[groupID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	return requires, nil
}

func (s *MemorySource) GroupFor(ctx context.Context, actorRef string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	group, ok := s.actors[actorRef]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return group, nil
}

// File is the on-disk policy layout:
//
//	groups:
//	  - id: payments
//	    requiresVerification: true
//	actors:
//	  merchant-42: payments
type File struct {
	Groups []GroupPolicy     `yaml:"groups"`
	Actors map[string]string `yaml:"actors"`
}

type GroupPolicy struct {
	ID                   string `yaml:"id"`
	RequiresVerification bool   `yaml:"requiresVerification"`
}

// LoadFile reads a policy file into a new source. An empty path yields an
// empty source, under which no group requires verification.
func LoadFile(path string) (*MemorySource, error) {
	src := NewMemorySource()
	if path == "" {
		return src, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()

	var file File
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode policy file: %w", err)
	}
	if err := file.apply(src); err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return src, nil
}

func (f File) apply(src *MemorySource) error {
	var errs []error
	seen := make(map[string]bool, len(f.Groups))
	for _, g := range f.Groups {
		id := strings.TrimSpace(g.ID)
		switch {
		case id == "":
			errs = append(errs, errors.New("group with empty id"))
			continue
		case seen[id]:
			errs = append(errs, fmt.Errorf("group %q declared twice", id))
			continue
		}
		seen[id] = true
		src.SetPolicy(id, g.RequiresVerification)
	}
	for actor, group := range f.Actors {
		if !seen[group] {
			errs = append(errs, fmt.Errorf("actor %q assigned to undeclared group %q", actor, group))
			continue
		}
		src.Assign(actor, group)
	}
	return errors.Join(errs...)
}
