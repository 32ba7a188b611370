// Package lifecycle establishes, repairs, and maintains the authenticated
// session and its profile record. The rest of the application renders
// eagerly off the state store and must never be left stuck loading.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"agrimitra/internal/audit"
	"agrimitra/internal/identity"
	"agrimitra/internal/lifecycle/metrics"
	"agrimitra/internal/lifecycle/state"
	"agrimitra/internal/platform/config"
	"agrimitra/internal/profile"
	"agrimitra/internal/profile/cache"
	"agrimitra/pkg/retry"
)

// ErrUsernameLocked rejects a rename once the one-time change is consumed.
var ErrUsernameLocked = errors.New("username can only be changed once")

// Manager is the identity lifecycle manager. One instance per process; all
// shared state lives in its state.Store so consumers observe a single
// coherent snapshot.
type Manager struct {
	cfg      config.Lifecycle
	provider identity.Provider
	store    profile.Store
	cache    *cache.Cache
	audit    *audit.Publisher
	metrics  *metrics.Metrics
	log      *slog.Logger

	state  *state.Store
	admins map[string]struct{}
	group  singleflight.Group

	runCtx      context.Context
	cancel      context.CancelFunc
	failsafeMu  sync.Mutex
	failsafe    *time.Timer
	unsubscribe func()
	startOnce   sync.Once
	closeOnce   sync.Once
}

// New wires a Manager. cache and auditPub may be nil (disabled).
func New(
	cfg config.Lifecycle,
	provider identity.Provider,
	store profile.Store,
	profileCache *cache.Cache,
	auditPub *audit.Publisher,
	m *metrics.Metrics,
	log *slog.Logger,
) *Manager {
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		admins[strings.ToLower(strings.TrimSpace(email))] = struct{}{}
	}
	return &Manager{
		cfg:      cfg,
		provider: provider,
		store:    store,
		cache:    profileCache,
		audit:    auditPub,
		metrics:  m,
		log:      log,
		state:    state.New(cfg.DefaultLanguage),
		admins:   admins,
	}
}

// Start subscribes to provider events, arms the boot failsafe, and launches
// the bootstrap in the background. The caller is never blocked on profile
// resolution.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.runCtx, m.cancel = context.WithCancel(ctx)
		m.unsubscribe = m.provider.Subscribe(m.handleEvent)
		m.armFailsafe()
		// Detached: bootstrap failures are observable only through the
		// state store, never through this caller.
		go m.bootstrap()
	})
}

// Close releases the event subscription and stops pending timers. In-flight
// resolves are fenced out by the cancelled context and the state epoch.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		m.disarmFailsafe()
	})
}

// State returns the observable lifecycle store.
func (m *Manager) State() *state.Store {
	return m.state
}

// SignIn authenticates with the provider. The resulting signed-in event
// drives the blocking establish-and-resolve path.
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	if _, err := m.provider.SignIn(ctx, email, password); err != nil {
		return err
	}
	return nil
}

// SignUp registers a new identity. When the provider returns a session
// immediately (no email confirmation), the signed-in event takes over.
func (m *Manager) SignUp(ctx context.Context, req identity.SignUpRequest) error {
	if _, err := m.provider.SignUp(ctx, req); err != nil {
		return err
	}
	return nil
}

// SignOut ends the session. State clearing happens synchronously inside the
// signed-out event handler.
func (m *Manager) SignOut(ctx context.Context) error {
	return m.provider.SignOut(ctx)
}

// UpdateProfile applies a user-initiated edit to the resolved profile,
// enforcing the one-time username rename.
func (m *Manager) UpdateProfile(ctx context.Context, upd profile.FieldUpdate) (*profile.Profile, error) {
	snap := m.state.Snapshot()
	if snap.Profile == nil {
		return nil, fmt.Errorf("update profile: no resolved profile")
	}

	if upd.Username != nil {
		normalized := profile.NormalizeUsername(*upd.Username)
		if normalized == "" {
			return nil, fmt.Errorf("update profile: username required")
		}
		if normalized == snap.Profile.Username {
			upd.Username = nil
		} else {
			if snap.Profile.UsernameChangedAt != nil {
				return nil, ErrUsernameLocked
			}
			upd.Username = &normalized
			upd.StampUsernameChange = true
		}
	}

	updated, err := m.store.UpdateFields(ctx, snap.Profile.ID, upd, time.Now())
	if err != nil {
		return nil, err
	}
	m.cache.Purge(ctx, updated.ID)
	m.state.Apply(func(s *state.Snapshot) {
		if s.Profile != nil && s.Profile.ID == updated.ID {
			s.Profile = updated
		}
	})
	return updated, nil
}

// SetLanguage validates and persists the display-language preference, and
// adopts it as the active language.
func (m *Manager) SetLanguage(ctx context.Context, language string) error {
	if !m.supportedLanguage(language) {
		return fmt.Errorf("unsupported language %q", language)
	}

	snap := m.state.Snapshot()
	if snap.Profile != nil {
		if err := m.store.UpdateLanguage(ctx, snap.Profile.ID, language); err != nil {
			return err
		}
		m.cache.Purge(ctx, snap.Profile.ID)
	}
	m.state.Apply(func(s *state.Snapshot) {
		s.Language = language
		if s.Profile != nil {
			updated := *s.Profile
			updated.Language = language
			s.Profile = &updated
		}
	})
	return nil
}

// ResetPassword asks the provider to send a recovery mail.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	return m.provider.SendPasswordReset(ctx, email, m.cfg.ResetRedirectURL)
}

// Retry is the explicit user action that clears a sticky error and re-runs
// the whole bootstrap sequence.
func (m *Manager) Retry() {
	m.state.Apply(func(s *state.Snapshot) {
		s.Failure = nil
		s.Blocking = false
		s.Phase = state.PhaseBooting
	})
	m.transition(state.PhaseBooting)
	m.armFailsafe()
	go m.bootstrap()
}

// SetShowLoginPrompt flips the login prompt flag. Plain shared UI state, not
// part of the lifecycle machine.
func (m *Manager) SetShowLoginPrompt(show bool) {
	m.state.Apply(func(s *state.Snapshot) {
		s.ShowLoginPrompt = show
	})
}

func (m *Manager) armFailsafe() {
	m.failsafeMu.Lock()
	defer m.failsafeMu.Unlock()
	if m.failsafe != nil {
		m.failsafe.Stop()
	}
	// Races the bootstrap to end booting; EndBooting is write-once, so the
	// loser is a no-op.
	m.failsafe = time.AfterFunc(m.cfg.BootFailsafe, func() {
		if m.state.EndBooting(state.PhaseGuest) {
			m.transition(state.PhaseGuest)
			m.log.Warn("boot failsafe fired before bootstrap finished")
		}
	})
}

func (m *Manager) disarmFailsafe() {
	m.failsafeMu.Lock()
	defer m.failsafeMu.Unlock()
	if m.failsafe != nil {
		m.failsafe.Stop()
		m.failsafe = nil
	}
}

func (m *Manager) isAdminEmail(email string) bool {
	_, ok := m.admins[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

func (m *Manager) supportedLanguage(language string) bool {
	for _, l := range m.cfg.SupportedLanguages {
		if l == language {
			return true
		}
	}
	return false
}

// normalizeLanguage maps a stored preference onto the supported set, falling
// back to the default locale.
func (m *Manager) normalizeLanguage(language string) string {
	if m.supportedLanguage(language) {
		return language
	}
	return m.cfg.DefaultLanguage
}

func (m *Manager) retryConfig(attempts int) retry.Config {
	return retry.Config{
		Attempts:       attempts,
		BaseDelay:      m.cfg.RetryBaseDelay,
		AttemptTimeout: m.cfg.AttemptTimeout,
		OnRetry: func(attempt int, err error) {
			m.metrics.RetryAttempts.Inc()
			m.log.Debug("retrying remote call", "attempt", attempt, "err", err)
		},
	}
}

func (m *Manager) transition(phase state.Phase) {
	m.metrics.Transitions.WithLabelValues(string(phase)).Inc()
}

func (m *Manager) emitAudit(kind string, ident identity.Identity, detail map[string]string) {
	m.audit.Emit(audit.Event{
		Kind:       kind,
		IdentityID: ident.ID.String(),
		Email:      ident.Email,
		Detail:     detail,
	})
}
