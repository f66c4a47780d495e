// Package memory is the in-process export backend, used in tests and in
// deployments without a configured spreadsheet.
package memory

import (
	"context"
	"fmt"
	"sync"

	"loonie/internal/core"
)

type Store struct {
	mu       sync.Mutex
	exports  [][]core.Fact
	profiles []core.PIIUser
}

func New() *Store {
	return &Store{}
}

// ExportFacts stores a snapshot of the facts and returns a synthetic ref.
func (s *Store) ExportFacts(_ context.Context, token string, facts []core.Fact) (string, error) {
	if token == "" {
		return "", &core.ValidationError{Field: "token", Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := append([]core.Fact(nil), facts...)
	s.exports = append(s.exports, snapshot)
	return fmt.Sprintf("mem:facts:%d", len(s.exports)), nil
}

// ExportProfile stores the profile and returns a synthetic ref.
func (s *Store) ExportProfile(_ context.Context, user core.PIIUser) (string, error) {
	if user.InternalUserID <= 0 {
		return "", &core.ValidationError{Field: "internal_user_id", Reason: "must be positive"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = append(s.profiles, user)
	return fmt.Sprintf("mem:profile:%d", len(s.profiles)), nil
}

// Exports returns a copy of every fact snapshot taken so far.
func (s *Store) Exports() [][]core.Fact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]core.Fact, len(s.exports))
	copy(out, s.exports)
	return out
}

// Profiles returns a copy of every exported profile.
func (s *Store) Profiles() []core.PIIUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.PIIUser(nil), s.profiles...)
}
