package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"agrimitra/internal/audit"
	"agrimitra/internal/identity"
	"agrimitra/internal/lifecycle/state"
	"agrimitra/internal/profile"
	"agrimitra/pkg/platform/sentinel"
	"agrimitra/pkg/retry"
)

// resolve is the lifecycle orchestrator: fetch the profile, repair it on a
// miss, apply the admin promotion rule, adopt the stored language, and
// publish ready or a classified error. It never returns a value; callers do
// not block on it, and its outcome is fenced by the state epoch so a
// completion that lands after sign-out is discarded.
func (m *Manager) resolve(ctx context.Context, ident identity.Identity) {
	epoch := m.state.Epoch()
	start := time.Now()

	// Duplicate triggers for one identity (double tab, replayed event)
	// share a single flight; both observers publish the same outcome.
	v, err, _ := m.group.Do(ident.ID.String(), func() (any, error) {
		return m.resolveProfile(ctx, ident, epoch)
	})
	m.metrics.ResolveDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		failure := classify(err)
		m.metrics.ResolveFailures.Inc()
		m.log.Error("profile resolution failed", "identity", ident.ID, "kind", failure.Kind, "err", err)
		m.emitAudit(audit.KindResolveFailed, ident, map[string]string{"kind": string(failure.Kind)})
		if m.state.ApplyIf(epoch, func(s *state.Snapshot) {
			s.Phase = state.PhaseError
			s.Blocking = false
			s.Failure = failure
		}) {
			m.transition(state.PhaseError)
		}
		return
	}

	prof := v.(*profile.Profile)
	language := m.normalizeLanguage(prof.Language)
	applied := m.state.ApplyIf(epoch, func(s *state.Snapshot) {
		identCopy := ident
		s.Identity = &identCopy
		s.Profile = prof
		s.Language = language
		s.Failure = nil
		s.Blocking = false
		s.Phase = state.PhaseReady
	})
	if applied {
		m.transition(state.PhaseReady)
		m.cache.Set(ctx, prof)
	}
}

// resolveProfile runs the accessor-then-repair sequence and the promotion
// rule, returning the resolved profile.
func (m *Manager) resolveProfile(ctx context.Context, ident identity.Identity, epoch uint64) (*profile.Profile, error) {
	prof, err := m.fetchProfile(ctx, ident.ID)
	if err != nil {
		return nil, err
	}

	if prof == nil {
		// Creating a profile must not race a user trying to use one that
		// does not exist yet; publish the blocking repairing phase.
		if m.state.ApplyIf(epoch, func(s *state.Snapshot) {
			s.Phase = state.PhaseRepairing
		}) {
			m.transition(state.PhaseRepairing)
		}
		prof, err = m.repair(ctx, ident)
		if err != nil {
			return nil, err
		}
	}

	if m.isAdminEmail(ident.Email) && prof.Role != profile.RoleAdmin {
		if err := m.store.UpdateRole(ctx, prof.ID, profile.RoleAdmin); err != nil {
			return nil, err
		}
		prof.Role = profile.RoleAdmin
		m.metrics.Promotions.Inc()
		m.cache.Purge(ctx, prof.ID)
		m.emitAudit(audit.KindRolePromoted, ident, nil)
	}
	return prof, nil
}

// fetchProfile is the profile accessor: one primary-key lookup, wrapped in
// the executor since reads are idempotent and safe to repeat. A missing row
// returns (nil, nil); any other failure propagates after retries exhaust.
func (m *Manager) fetchProfile(ctx context.Context, id uuid.UUID) (*profile.Profile, error) {
	if p, ok := m.cache.Get(ctx, id); ok {
		return p, nil
	}

	p, err := retry.Do(ctx, m.retryConfig(m.cfg.FetchAttempts), func(ctx context.Context) (*profile.Profile, error) {
		p, err := m.store.Find(ctx, id)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return p, err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
