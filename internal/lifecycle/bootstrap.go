package lifecycle

import (
	"context"

	"agrimitra/internal/identity"
	"agrimitra/internal/lifecycle/state"
	"agrimitra/pkg/retry"
)

// bootstrap runs once per Start/Retry. It asks the provider for an existing
// session on a short budget, unlocks the UI, and hands any found identity to
// the orchestrator without waiting for it.
func (m *Manager) bootstrap() {
	ctx := m.runCtx

	cfg := m.retryConfig(m.cfg.BootstrapAttempts)
	cfg.AttemptTimeout = m.cfg.BootstrapTimeout
	sess, err := retry.Do(ctx, cfg, func(ctx context.Context) (*identity.Session, error) {
		return m.provider.CurrentSession(ctx)
	})
	if err != nil {
		// Forward progress beats accuracy here: show the guest shell and
		// let the user sign in by hand.
		m.log.Warn("session bootstrap failed", "err", err)
		if m.state.EndBooting(state.PhaseGuest) {
			m.transition(state.PhaseGuest)
		}
		return
	}

	if sess == nil {
		if m.state.EndBooting(state.PhaseGuest) {
			m.transition(state.PhaseGuest)
		}
		return
	}

	ident := sess.Identity
	m.state.Apply(func(s *state.Snapshot) {
		s.Session = sess
		s.Identity = &ident
	})
	if m.state.EndBooting(state.PhaseEstablishing) {
		m.transition(state.PhaseEstablishing)
	}

	// Detached: the UI is already unlocked; resolution failure is
	// observable only through the state store.
	go m.resolve(ctx, ident)
}
