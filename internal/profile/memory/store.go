// Package memory is an in-memory profile store for tests and local runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"agrimitra/internal/profile"
	"agrimitra/pkg/platform/sentinel"
)

// Store keeps profiles in a map guarded by a mutex. It mirrors the postgres
// store's semantics, including username uniqueness and upsert convergence.
type Store struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]profile.Profile

	// Call counters let lifecycle tests assert how often each operation
	// ran without a mocking framework.
	findCalls   int
	upsertCalls int
	roleCalls   int
}

func New() *Store {
	return &Store{profiles: map[uuid.UUID]profile.Profile{}}
}

func (s *Store) Find(ctx context.Context, id uuid.UUID) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	p, ok := s.profiles[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := p
	return &copied, nil
}

func (s *Store) Upsert(ctx context.Context, p *profile.Profile) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++

	if existing, ok := s.profiles[p.ID]; ok {
		existing.Email = p.Email
		existing.UpdatedAt = time.Now()
		s.profiles[p.ID] = existing
		copied := existing
		return &copied, nil
	}

	for id, other := range s.profiles {
		if id != p.ID && other.Username == p.Username {
			return nil, sentinel.ErrConflict
		}
	}

	stored := *p
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.profiles[p.ID] = stored
	copied := stored
	return &copied, nil
}

func (s *Store) UpdateRole(ctx context.Context, id uuid.UUID, role profile.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleCalls++
	p, ok := s.profiles[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	p.Role = role
	p.UpdatedAt = time.Now()
	s.profiles[id] = p
	return nil
}

func (s *Store) UpdateLanguage(ctx context.Context, id uuid.UUID, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	p.Language = language
	p.UpdatedAt = time.Now()
	s.profiles[id] = p
	return nil
}

func (s *Store) UpdateFields(ctx context.Context, id uuid.UUID, upd profile.FieldUpdate, now time.Time) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if upd.Username != nil {
		for other, op := range s.profiles {
			if other != id && op.Username == *upd.Username {
				return nil, sentinel.ErrConflict
			}
		}
		p.Username = *upd.Username
	}
	if upd.FullName != nil {
		p.FullName = *upd.FullName
	}
	if upd.District != nil {
		p.District = *upd.District
	}
	if upd.Phone != nil {
		p.Phone = *upd.Phone
	}
	if upd.AvatarURL != nil {
		p.AvatarURL = *upd.AvatarURL
	}
	if upd.StampUsernameChange {
		stamp := now
		p.UsernameChangedAt = &stamp
	}
	p.UpdatedAt = time.Now()
	s.profiles[id] = p
	copied := p
	return &copied, nil
}

// Put seeds a profile directly, bypassing counters.
func (s *Store) Put(p profile.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// FindCount reports how many Find calls were made.
func (s *Store) FindCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCalls
}

// UpsertCount reports how many Upsert calls were made.
func (s *Store) UpsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertCalls
}

// RoleCount reports how many UpdateRole calls were made.
func (s *Store) RoleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roleCalls
}

// Len reports the number of stored rows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}
