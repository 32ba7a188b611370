package lifecycle_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrimitra/internal/identity"
	"agrimitra/internal/lifecycle/state"
	"agrimitra/internal/profile"
)

func tokenRefreshed(f *fixture) identity.Event {
	snap := f.manager.State().Snapshot()
	sess := snap.Session
	if sess == nil {
		sess = makeSession(uuid.New(), "refresh@example.com", nil)
	}
	refreshed := *sess
	refreshed.AccessToken = "rotated-" + time.Now().String()
	return identity.Event{Kind: identity.EventTokenRefreshed, Session: &refreshed}
}

func readyFixture(t *testing.T) (*fixture, uuid.UUID) {
	t.Helper()
	f := newFixture(testConfig())
	id := uuid.New()
	f.store.Put(profile.Profile{ID: id, Username: "ready", Role: profile.RoleUser, Language: "en"})
	f.provider.setSession(makeSession(id, "ready@example.com", nil))
	f.manager.Start(context.Background())
	t.Cleanup(f.manager.Close)
	waitForPhase(t, f, state.PhaseReady)
	return f, id
}

func TestEvents_SignedInBlocksUntilResolutionSettles(t *testing.T) {
	f := newFixture(testConfig())
	id := uuid.New()
	f.store.Put(profile.Profile{ID: id, Username: "ready", Language: "en"})

	f.manager.Start(context.Background())
	defer f.manager.Close()
	waitForPhase(t, f, state.PhaseGuest)

	var sawBlocking atomic.Bool
	unsubscribe := f.manager.State().Subscribe(func(s state.Snapshot) {
		if s.Phase == state.PhaseEstablishing && s.Blocking {
			sawBlocking.Store(true)
		}
	})
	defer unsubscribe()

	f.provider.setSession(makeSession(id, "ready@example.com", nil))
	require.NoError(t, f.manager.SignIn(context.Background(), "ready@example.com", "pw"))

	// The fake provider delivers events synchronously, so the blocking
	// establish-resolve round trip has settled by now.
	assert.Equal(t, state.PhaseReady, phase(f))
	assert.True(t, sawBlocking.Load(), "signed-in must pass through the blocking establishing state")
	assert.False(t, f.manager.State().Snapshot().Blocking)
}

func TestEvents_TokenRefreshedIsInvisible(t *testing.T) {
	f, _ := readyFixture(t)

	findsBefore := f.store.FindCount()
	var phases []state.Phase
	unsubscribe := f.manager.State().Subscribe(func(s state.Snapshot) {
		phases = append(phases, s.Phase)
	})
	defer unsubscribe()

	ev := tokenRefreshed(f)
	f.provider.emit(ev)

	assert.Equal(t, state.PhaseReady, phase(f))
	assert.Equal(t, findsBefore, f.store.FindCount(), "refresh must not re-run profile resolution")
	for _, p := range phases {
		assert.NotEqual(t, state.PhaseEstablishing, p)
		assert.NotEqual(t, state.PhaseRepairing, p)
	}
	assert.Equal(t, ev.Session.AccessToken, f.manager.State().Snapshot().Session.AccessToken,
		"rotated token is stored")
}

func TestEvents_UserUpdatedResolvesWithoutBlocking(t *testing.T) {
	f, _ := readyFixture(t)

	var sawBlocking atomic.Bool
	unsubscribe := f.manager.State().Subscribe(func(s state.Snapshot) {
		if s.Blocking {
			sawBlocking.Store(true)
		}
	})
	defer unsubscribe()

	findsBefore := f.store.FindCount()
	_, err := f.provider.UpdateUser(context.Background(), map[string]string{"full_name": "New Name"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.store.FindCount() > findsBefore
	}, time.Second, 5*time.Millisecond, "user-updated still triggers the orchestrator")
	waitForPhase(t, f, state.PhaseReady)
	assert.False(t, sawBlocking.Load(), "user-updated must not interrupt a settled UI")
}

func TestEvents_SignedOutClearsStateSynchronously(t *testing.T) {
	f, _ := readyFixture(t)

	require.NoError(t, f.manager.SignOut(context.Background()))

	// Observable immediately after the event is processed.
	snap := f.manager.State().Snapshot()
	assert.Equal(t, state.PhaseGuest, snap.Phase)
	assert.Nil(t, snap.Identity)
	assert.Nil(t, snap.Session)
	assert.Nil(t, snap.Profile)
	assert.Nil(t, snap.Failure)
}

func TestEvents_SignOutFencesInFlightResolution(t *testing.T) {
	f, id := readyFixture(t)

	// Start a slow background resolution, then sign out while it is in
	// flight. Its completion must not resurrect the signed-in state.
	f.store.setFindDelay(50 * time.Millisecond)
	sess := makeSession(id, "ready@example.com", nil)
	f.provider.emit(identity.Event{Kind: identity.EventUserUpdated, Session: sess})

	require.NoError(t, f.manager.SignOut(context.Background()))
	assert.Equal(t, state.PhaseGuest, phase(f))

	time.Sleep(150 * time.Millisecond)
	snap := f.manager.State().Snapshot()
	assert.Equal(t, state.PhaseGuest, snap.Phase, "stale resolve must be a no-op after sign-out")
	assert.Nil(t, snap.Profile)
}
