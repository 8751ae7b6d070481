package fingerprint

import (
	"errors"
	"fmt"
)

// ErrProfileNotFound is returned by Registry.Get for unknown profile IDs.
var ErrProfileNotFound = errors.New("fingerprint: profile not found")

// DefaultProfileID is the fallback profile used when a configured or
// requested ID does not resolve.
const DefaultProfileID = "chrome-131"

// Registry is the static catalog of browser profiles. It is built once and
// read-only afterwards, so lookups need no locking.
type Registry struct {
	profiles  []*Profile
	byID      map[string]*Profile
	defaultID string
}

// NewRegistry builds a registry from an explicit profile list. List order is
// preserved and used by round-robin rotation.
func NewRegistry(profiles []*Profile, defaultID string) (*Registry, error) {
	if len(profiles) == 0 {
		return nil, errors.New("fingerprint: empty profile list")
	}
	byID := make(map[string]*Profile, len(profiles))
	for _, p := range profiles {
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("fingerprint: duplicate profile id %q", p.ID)
		}
		byID[p.ID] = p
	}
	if defaultID == "" {
		defaultID = profiles[0].ID
	}
	if _, ok := byID[defaultID]; !ok {
		return nil, fmt.Errorf("fingerprint: default profile %q not in registry", defaultID)
	}
	return &Registry{profiles: profiles, byID: byID, defaultID: defaultID}, nil
}

// NewDefaultRegistry loads every built-in profile: Chrome, Safari desktop
// and mobile, Edge, Firefox, and OkHttp, newest releases first within each
// family.
func NewDefaultRegistry() *Registry {
	var all []*Profile
	all = append(all, chromeProfiles()...)
	all = append(all, safariProfiles()...)
	all = append(all, edgeProfiles()...)
	all = append(all, firefoxProfiles()...)
	all = append(all, okhttpProfiles()...)

	r, err := NewRegistry(all, DefaultProfileID)
	if err != nil {
		// Built-in data is validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return r
}

// List returns the profiles in stable registry order. The returned slice is
// a copy; the profiles themselves are shared and immutable.
func (r *Registry) List() []*Profile {
	out := make([]*Profile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

// Get returns the profile with the given ID.
func (r *Registry) Get(id string) (*Profile, error) {
	if p, ok := r.byID[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, id)
}

// GetOrDefault resolves an ID, falling back to the default profile for
// unknown or empty IDs rather than failing the connection.
func (r *Registry) GetOrDefault(id string) *Profile {
	if p, ok := r.byID[id]; ok {
		return p
	}
	return r.Default()
}

// Default returns the registry's default profile.
func (r *Registry) Default() *Profile {
	return r.byID[r.defaultID]
}

// Len returns the number of registered profiles.
func (r *Registry) Len() int {
	return len(r.profiles)
}
