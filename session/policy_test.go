package session

import (
	"testing"
)

func TestFixedPolicy(t *testing.T) {
	profiles := testProfiles(t)
	p := NewFixed(profiles[0])

	for i := 0; i < 10; i++ {
		if got := p.Next(); got != profiles[0] {
			t.Fatalf("fixed policy returned %s", got.ID)
		}
	}
}

func TestRoundRobinPolicy(t *testing.T) {
	profiles := testProfiles(t)[:3]
	p := NewRoundRobin(profiles)

	for round := 0; round < 2; round++ {
		for i := 0; i < len(profiles); i++ {
			if got := p.Next(); got != profiles[i] {
				t.Fatalf("round %d position %d: got %s, want %s",
					round, i, got.ID, profiles[i].ID)
			}
		}
	}
}

func TestRoundRobinEmptyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("empty round-robin did not panic")
		}
	}()
	NewRoundRobin(nil)
}

func TestRandomPolicy(t *testing.T) {
	profiles := testProfiles(t)
	p := NewRandom(profiles, 1)

	valid := make(map[string]bool, len(profiles))
	for _, prof := range profiles {
		valid[prof.ID] = true
	}

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		got := p.Next()
		if !valid[got.ID] {
			t.Fatalf("random policy returned unknown profile %s", got.ID)
		}
		seen[got.ID] = true
	}
	if len(seen) < 2 {
		t.Error("random policy never varied across 200 draws")
	}
}

func TestRandomDeterministicSeed(t *testing.T) {
	profiles := testProfiles(t)

	a := NewRandom(profiles, 42)
	b := NewRandom(profiles, 42)
	for i := 0; i < 50; i++ {
		if a.Next() != b.Next() {
			t.Fatal("same seed produced different sequences")
		}
	}
}
