// Package state holds the in-memory lifecycle state as an explicit
// observable store. Instances are constructed per manager so tests run
// against isolated state rather than ambient globals.
package state

import (
	"sync"

	"agrimitra/internal/identity"
	"agrimitra/internal/profile"
)

// Phase is where the current user sits in the boot/auth/error flow.
type Phase string

const (
	PhaseBooting      Phase = "booting"
	PhaseGuest        Phase = "guest"
	PhaseEstablishing Phase = "establishing"
	PhaseReady        Phase = "ready"
	PhaseRepairing    Phase = "repairing"
	PhaseError        Phase = "error"
)

// FailureKind classifies a terminal resolution failure.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailureSchema    FailureKind = "schema"
	FailureRepair    FailureKind = "repair"
)

// Failure is the sticky user-facing error. It survives background events and
// clears only on explicit retry or sign-out.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Snapshot is an immutable copy of the lifecycle state.
type Snapshot struct {
	Phase    Phase
	Blocking bool
	Identity *identity.Identity
	Session  *identity.Session
	Profile  *profile.Profile
	Failure  *Failure
	Language string

	// ShowLoginPrompt is plain shared UI state, not part of the machine.
	ShowLoginPrompt bool
}

// IsLoading reports whether consumers should render a blocking indicator for
// session establishment.
func (s Snapshot) IsLoading() bool {
	return s.Phase == PhaseBooting || (s.Phase == PhaseEstablishing && s.Blocking)
}

// IsRepairing reports whether a blocking profile creation is in flight.
func (s Snapshot) IsRepairing() bool {
	return s.Phase == PhaseRepairing
}

// Store is the single shared mutable resource of the lifecycle subsystem.
// All writes go through Apply-style methods under one mutex; asynchronous
// completions are fenced by an epoch so a superseded resolve can never
// resurrect state after sign-out or teardown.
type Store struct {
	mu      sync.Mutex
	snap    Snapshot
	epoch   uint64
	subs    map[int]func(Snapshot)
	nextSub int
}

// New returns a store in the booting phase with the given default language.
func New(language string) *Store {
	return &Store{
		snap: Snapshot{Phase: PhaseBooting, Language: language},
		subs: map[int]func(Snapshot){},
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Epoch returns the current fencing token. Asynchronous work captures it
// before starting and publishes through ApplyIf.
func (s *Store) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Subscribe registers fn for every state change and returns an unsubscribe
// function. fn runs synchronously under the store lock ordering, so it must
// not call back into the store.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Apply mutates the snapshot and notifies subscribers.
func (s *Store) Apply(mutate func(*Snapshot)) {
	s.mu.Lock()
	mutate(&s.snap)
	snap, fns := s.snap, s.subscribers()
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// ApplyIf mutates the snapshot only when the fencing epoch still matches.
// It reports whether the write was applied; a stale writer's effect is a
// no-op.
func (s *Store) ApplyIf(epoch uint64, mutate func(*Snapshot)) bool {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	mutate(&s.snap)
	snap, fns := s.snap, s.subscribers()
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
	return true
}

// EndBooting leaves the booting phase with write-once semantics: the first
// caller (bootstrap or failsafe timer) wins and later callers are no-ops.
// It reports whether this caller performed the transition.
func (s *Store) EndBooting(next Phase) bool {
	s.mu.Lock()
	if s.snap.Phase != PhaseBooting {
		s.mu.Unlock()
		return false
	}
	s.snap.Phase = next
	snap, fns := s.snap, s.subscribers()
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
	return true
}

// Reset synchronously clears identity, session, profile, and failure, bumps
// the fencing epoch, and enters the guest phase. Any in-flight resolve that
// started before the reset is fenced out.
func (s *Store) Reset() {
	s.mu.Lock()
	s.epoch++
	language := s.snap.Language
	s.snap = Snapshot{Phase: PhaseGuest, Language: language}
	snap, fns := s.snap, s.subscribers()
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Store) subscribers() []func(Snapshot) {
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	return fns
}
