package cloud

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/labmgr/labmgr/internal/labmanager"
)

// ErrProfileNotFound is returned when no profile matches a description.
// It wraps labmanager.ErrConfigurationNotFound so callers may test for either.
var ErrProfileNotFound = fmt.Errorf("cloud profile not found: %w", labmanager.ErrConfigurationNotFound)

// Registry holds the configured profiles keyed by description.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewRegistry builds a registry from profiles.
func NewRegistry(profiles ...*Profile) (*Registry, error) {
	r := &Registry{profiles: make(map[string]*Profile)}
	for _, p := range profiles {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a profile. Descriptions must be unique.
func (r *Registry) Register(p *Profile) error {
	if p == nil {
		return errors.New("profile is nil")
	}
	key := strings.TrimSpace(p.Description())
	if key == "" {
		return errors.New("profile description is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profiles == nil {
		r.profiles = make(map[string]*Profile)
	}
	if _, exists := r.profiles[key]; exists {
		return fmt.Errorf("duplicate cloud description %q", key)
	}
	r.profiles[key] = p
	return nil
}

// Lookup returns the profile with the given description.
func (r *Registry) Lookup(description string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[strings.TrimSpace(description)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, description)
	}
	return p, nil
}

// List returns the profiles sorted by description.
func (r *Registry) List() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Description() < out[j].Description() })
	return out
}
