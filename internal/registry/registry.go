// Package registry holds the capability profiles available for routing.
// Profiles register at startup (descriptor files) or at runtime through
// the embedding application; readers always observe complete profiles.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"roundtable/internal/logging"
	"roundtable/internal/taxonomy"
	"roundtable/internal/types"
)

var (
	// ErrDuplicateID is returned when registering an ID that already exists.
	ErrDuplicateID = errors.New("profile id already registered")
	// ErrNotFound is returned when a profile id is not registered.
	ErrNotFound = errors.New("profile not found")
	// ErrInvalidProfile is returned when a profile fails validation.
	ErrInvalidProfile = errors.New("invalid profile")
)

// Registry is a concurrency-safe capability profile store.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]types.Profile
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		profiles: make(map[string]types.Profile),
	}
}

// Register adds a new profile. Duplicate IDs fail with ErrDuplicateID
// and never mutate existing state.
func (r *Registry) Register(p types.Profile) error {
	p = canonicalize(p)
	if err := validate(p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[p.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
	}
	r.profiles[p.ID] = p

	logging.Registry("registered profile %s (%d tags, %d keywords)", p.ID, len(p.Tags), len(p.Keywords))
	logging.Audit().ProfileRegistered(p.ID, false)
	return nil
}

// Replace atomically swaps an existing profile for a new revision.
// Readers never observe a partly-updated profile.
func (r *Registry) Replace(p types.Profile) error {
	p = canonicalize(p)
	if err := validate(p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[p.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, p.ID)
	}
	r.profiles[p.ID] = p

	logging.Registry("replaced profile %s", p.ID)
	logging.Audit().ProfileRegistered(p.ID, true)
	return nil
}

// Remove deletes a profile by id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.profiles, id)
	logging.Registry("removed profile %s", id)
	return nil
}

// Get returns a copy of the profile with the given id.
func (r *Registry) Get(id string) (types.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.profiles[id]
	if !exists {
		return types.Profile{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneProfile(p), nil
}

// Has reports whether a profile id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.profiles[id]
	return exists
}

// ListByTag returns profiles carrying the given tag, ordered by id.
func (r *Registry) ListByTag(tag string) []types.Profile {
	tag = taxonomy.Canon(tag)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.Profile
	for _, p := range r.profiles {
		for _, t := range p.Tags {
			if t == tag {
				out = append(out, cloneProfile(p))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every registered profile, ordered by id.
func (r *Registry) All() []types.Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, cloneProfile(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered profiles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

// TagFacts exports profile tags for the taxonomy kernel.
func (r *Registry) TagFacts() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.profiles))
	for id, p := range r.profiles {
		tags := make([]string, len(p.Tags))
		copy(tags, p.Tags)
		out[id] = tags
	}
	return out
}

// canonicalize lowercases and dedupes tags and keywords, first-seen order.
func canonicalize(p types.Profile) types.Profile {
	p.Tags = dedupeCanon(p.Tags)
	p.Keywords = dedupeCanon(p.Keywords)
	return p
}

func dedupeCanon(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		c := taxonomy.Canon(s)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// validate rejects profiles that cannot participate in routing.
func validate(p types.Profile) error {
	if p.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidProfile)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: %s has empty name", ErrInvalidProfile, p.ID)
	}
	if len(p.Tags) == 0 && len(p.Keywords) == 0 {
		return fmt.Errorf("%w: %s declares no tags and no keywords", ErrInvalidProfile, p.ID)
	}
	if p.Authority < 0 || p.Authority > 1 {
		return fmt.Errorf("%w: %s authority %.2f outside [0,1]", ErrInvalidProfile, p.ID, p.Authority)
	}
	for _, tt := range p.TaskTypes {
		if !types.KnownTaskType(tt) {
			return fmt.Errorf("%w: %s declares unknown task type %q", ErrInvalidProfile, p.ID, tt)
		}
	}
	for _, dep := range p.DependsOn {
		if dep.ProfileID == "" {
			return fmt.Errorf("%w: %s declares empty dependency id", ErrInvalidProfile, p.ID)
		}
		if dep.ProfileID == p.ID {
			return fmt.Errorf("%w: %s depends on itself", ErrInvalidProfile, p.ID)
		}
	}
	if p.Evaluate == nil {
		return fmt.Errorf("%w: %s has no evaluator", ErrInvalidProfile, p.ID)
	}
	return nil
}

// cloneProfile copies slice fields so callers cannot mutate stored state.
func cloneProfile(p types.Profile) types.Profile {
	out := p
	if p.Tags != nil {
		out.Tags = append([]string(nil), p.Tags...)
	}
	if p.Keywords != nil {
		out.Keywords = append([]string(nil), p.Keywords...)
	}
	if p.TaskTypes != nil {
		out.TaskTypes = append([]string(nil), p.TaskTypes...)
	}
	if p.DependsOn != nil {
		out.DependsOn = append([]types.Dependency(nil), p.DependsOn...)
	}
	return out
}
