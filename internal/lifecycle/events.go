package lifecycle

import (
	"agrimitra/internal/audit"
	"agrimitra/internal/identity"
	"agrimitra/internal/lifecycle/state"
)

// handleEvent dispatches provider lifecycle notifications. Each kind carries
// its own blocking semantics; the switch is kept exhaustive so a new event
// kind cannot slip through unhandled.
func (m *Manager) handleEvent(ev identity.Event) {
	ctx := m.runCtx

	switch ev.Kind {
	case identity.EventSignedIn:
		// User-initiated: the user is waiting, so establishing blocks
		// until resolution settles.
		if ev.Session == nil {
			return
		}
		sess := ev.Session
		ident := sess.Identity
		m.state.Apply(func(s *state.Snapshot) {
			s.Session = sess
			s.Identity = &ident
			s.Failure = nil
			s.Blocking = true
			s.Phase = state.PhaseEstablishing
		})
		m.transition(state.PhaseEstablishing)
		m.emitAudit(audit.KindSignedIn, ident, nil)
		m.resolve(ctx, ident)

	case identity.EventUserUpdated:
		// Incidental metadata change: re-resolve, but never interrupt an
		// already-settled UI with a blocking state.
		if ev.Session == nil {
			return
		}
		sess := ev.Session
		ident := sess.Identity
		m.state.Apply(func(s *state.Snapshot) {
			s.Session = sess
			s.Identity = &ident
		})
		go m.resolve(ctx, ident)

	case identity.EventTokenRefreshed:
		// Silent: fires periodically in the background. Store the new
		// session only; never resolve, never block.
		if ev.Session == nil {
			return
		}
		sess := ev.Session
		ident := sess.Identity
		m.state.Apply(func(s *state.Snapshot) {
			s.Session = sess
			s.Identity = &ident
		})

	case identity.EventSignedOut:
		snap := m.state.Snapshot()
		if snap.Identity != nil {
			m.cache.Purge(ctx, snap.Identity.ID)
			m.emitAudit(audit.KindSignedOut, *snap.Identity, nil)
		}
		// Synchronous clear; the epoch bump inside Reset fences any
		// outstanding resolve from overwriting guest state.
		m.state.Reset()
		m.transition(state.PhaseGuest)

	default:
		m.log.Error("unhandled auth event kind", "kind", ev.Kind)
	}
}
