package session

import (
	"math/rand"
	"sync"

	"github.com/proxycloak/proxycloak/fingerprint"
)

// Policy picks the fingerprint profile for a newly created session.
// Existing sessions are never re-assigned; the policy only runs once
// per session.
type Policy interface {
	Next() *fingerprint.Profile
}

// Fixed always assigns the same profile.
type Fixed struct {
	profile *fingerprint.Profile
}

// NewFixed returns a policy that binds every session to profile.
func NewFixed(profile *fingerprint.Profile) *Fixed {
	return &Fixed{profile: profile}
}

func (f *Fixed) Next() *fingerprint.Profile {
	return f.profile
}

// RoundRobin cycles through a set of profiles in order.
type RoundRobin struct {
	mu       sync.Mutex
	profiles []*fingerprint.Profile
	next     int
}

// NewRoundRobin returns a policy that assigns profiles in rotation.
// The profile slice must be non-empty.
func NewRoundRobin(profiles []*fingerprint.Profile) *RoundRobin {
	if len(profiles) == 0 {
		panic("session: round-robin policy needs at least one profile")
	}
	return &RoundRobin{profiles: profiles}
}

func (r *RoundRobin) Next() *fingerprint.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.profiles[r.next]
	r.next = (r.next + 1) % len(r.profiles)
	return p
}

// Random picks a uniformly random profile per session.
type Random struct {
	mu       sync.Mutex
	profiles []*fingerprint.Profile
	rng      *rand.Rand
}

// NewRandom returns a policy that assigns a random profile to each new
// session. The profile slice must be non-empty.
func NewRandom(profiles []*fingerprint.Profile, seed int64) *Random {
	if len(profiles) == 0 {
		panic("session: random policy needs at least one profile")
	}
	return &Random{
		profiles: profiles,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (r *Random) Next() *fingerprint.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profiles[r.rng.Intn(len(r.profiles))]
}
