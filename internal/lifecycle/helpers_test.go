package lifecycle_test

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"agrimitra/internal/identity"
	"agrimitra/internal/lifecycle"
	"agrimitra/internal/lifecycle/metrics"
	"agrimitra/internal/lifecycle/state"
	"agrimitra/internal/platform/config"
	"agrimitra/internal/profile"
	"agrimitra/internal/profile/memory"
	"agrimitra/pkg/platform/sentinel"
)

const adminEmail = "admin@agrimitra.in"

func testConfig() config.Lifecycle {
	return config.Lifecycle{
		AdminEmails:        []string{adminEmail},
		DefaultLanguage:    "en",
		SupportedLanguages: []string{"en", "hi"},
		FetchAttempts:      2,
		RetryBaseDelay:     time.Millisecond,
		AttemptTimeout:     200 * time.Millisecond,
		BootstrapAttempts:  2,
		BootstrapTimeout:   100 * time.Millisecond,
		BootFailsafe:       2 * time.Second,
		RepairRereadDelay:  time.Millisecond,
		ResetRedirectURL:   "https://app.example/reset",
	}
}

// fakeProvider is a scripted identity provider. Emitted events run
// subscribers synchronously, so tests observe event handling effects as soon
// as emit returns.
type fakeProvider struct {
	mu      sync.Mutex
	session *identity.Session
	err     error
	// block, when set, makes CurrentSession wait for its context.
	block bool

	currentCalls int
	resetCalls   int
	subs         map[int]func(identity.Event)
	nextSub      int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{subs: map[int]func(identity.Event){}}
}

func (f *fakeProvider) CurrentSession(ctx context.Context) (*identity.Session, error) {
	f.mu.Lock()
	f.currentCalls++
	block, sess, err := f.block, f.session, f.err
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return sess, err
}

func (f *fakeProvider) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	f.mu.Lock()
	sess, err := f.session, f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.emit(identity.Event{Kind: identity.EventSignedIn, Session: sess})
	return sess, nil
}

func (f *fakeProvider) SignUp(ctx context.Context, req identity.SignUpRequest) (*identity.Session, error) {
	return f.SignIn(ctx, req.Email, req.Password)
}

func (f *fakeProvider) SignOut(ctx context.Context) error {
	f.emit(identity.Event{Kind: identity.EventSignedOut})
	return nil
}

func (f *fakeProvider) UpdateUser(ctx context.Context, fields map[string]string) (*identity.Session, error) {
	f.mu.Lock()
	sess := f.session
	f.mu.Unlock()
	f.emit(identity.Event{Kind: identity.EventUserUpdated, Session: sess})
	return sess, nil
}

func (f *fakeProvider) SendPasswordReset(ctx context.Context, email, redirectURL string) error {
	f.mu.Lock()
	f.resetCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) Subscribe(fn func(identity.Event)) func() {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeProvider) setSession(sess *identity.Session) {
	f.mu.Lock()
	f.session = sess
	f.mu.Unlock()
}

func (f *fakeProvider) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeProvider) setBlock(block bool) {
	f.mu.Lock()
	f.block = block
	f.mu.Unlock()
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentCalls
}

func (f *fakeProvider) resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resetCalls
}

func (f *fakeProvider) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeProvider) emit(ev identity.Event) {
	f.mu.Lock()
	fns := make([]func(identity.Event), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// flakyStore wraps the memory store with scripted failures and latency.
type flakyStore struct {
	*memory.Store
	mu        sync.Mutex
	findErr   error
	upsertErr error
	findDelay time.Duration
	// rereadMisses is armed onto pendingMisses by the next successful
	// Upsert: the row is written but the following N Finds still report it
	// missing, like a lagging read replica.
	rereadMisses  int
	pendingMisses int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memory.New()}
}

func (s *flakyStore) setFindErr(err error) {
	s.mu.Lock()
	s.findErr = err
	s.mu.Unlock()
}

func (s *flakyStore) setUpsertErr(err error) {
	s.mu.Lock()
	s.upsertErr = err
	s.mu.Unlock()
}

func (s *flakyStore) setFindDelay(d time.Duration) {
	s.mu.Lock()
	s.findDelay = d
	s.mu.Unlock()
}

func (s *flakyStore) setRereadMisses(n int) {
	s.mu.Lock()
	s.rereadMisses = n
	s.mu.Unlock()
}

func (s *flakyStore) Find(ctx context.Context, id uuid.UUID) (*profile.Profile, error) {
	s.mu.Lock()
	err, delay := s.findErr, s.findDelay
	if s.pendingMisses > 0 {
		s.pendingMisses--
		s.mu.Unlock()
		return nil, sentinel.ErrNotFound
	}
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return s.Store.Find(ctx, id)
}

func (s *flakyStore) Upsert(ctx context.Context, p *profile.Profile) (*profile.Profile, error) {
	s.mu.Lock()
	err := s.upsertErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out, upsertErr := s.Store.Upsert(ctx, p)
	if upsertErr == nil {
		s.mu.Lock()
		s.pendingMisses = s.rereadMisses
		s.rereadMisses = 0
		s.mu.Unlock()
	}
	return out, upsertErr
}

type fixture struct {
	manager  *lifecycle.Manager
	provider *fakeProvider
	store    *flakyStore
}

func newFixture(cfg config.Lifecycle) *fixture {
	provider := newFakeProvider()
	store := newFlakyStore()
	manager := lifecycle.New(
		cfg,
		provider,
		store,
		nil,
		nil,
		metrics.New(prometheus.NewRegistry()),
		slog.New(slog.DiscardHandler),
	)
	return &fixture{manager: manager, provider: provider, store: store}
}

func makeSession(id uuid.UUID, email string, metadata map[string]string) *identity.Session {
	return &identity.Session{
		AccessToken:  "token-" + id.String(),
		RefreshToken: "refresh-" + id.String(),
		ExpiresAt:    time.Now().Add(time.Hour),
		Identity: identity.Identity{
			ID:       id,
			Email:    email,
			Metadata: metadata,
		},
	}
}

func phase(f *fixture) state.Phase {
	return f.manager.State().Snapshot().Phase
}
