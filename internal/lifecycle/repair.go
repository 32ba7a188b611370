package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agrimitra/internal/audit"
	"agrimitra/internal/identity"
	"agrimitra/internal/profile"
	"agrimitra/pkg/platform/sentinel"
)

// ErrRepairFailed marks the terminal condition where a profile is still not
// visible after a successful upsert. An identity without a profile violates
// the app's core invariant, so this is never retried further.
var ErrRepairFailed = errors.New("profile repair failed")

// repair lazily creates the missing profile: synthesize a minimal valid row
// from identity metadata, upsert it (conflict-safe on the primary key), then
// re-read to confirm the row is durably visible.
func (m *Manager) repair(ctx context.Context, ident identity.Identity) (*profile.Profile, error) {
	candidate := deriveProfile(ident, m.cfg.DefaultLanguage)

	_, err := m.store.Upsert(ctx, candidate)
	if errors.Is(err, sentinel.ErrConflict) {
		// Derived username belongs to another identity; converge on the
		// generated fallback instead of failing the first login.
		candidate.Username = fallbackUsername(ident.ID)
		_, err = m.store.Upsert(ctx, candidate)
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrSchemaMissing) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: upsert: %v", ErrRepairFailed, err)
	}

	confirmed, err := m.rereadAfterRepair(ctx, ident.ID)
	if err != nil {
		return nil, err
	}

	m.metrics.Repairs.Inc()
	m.emitAudit(audit.KindProfileRepaired, ident, map[string]string{"username": confirmed.Username})
	return confirmed, nil
}

// rereadAfterRepair confirms durability through the accessor. One bounded
// extra delay-and-reread absorbs replica lag; a second miss is a
// data-consistency anomaly, not a transient fault, and becomes terminal.
func (m *Manager) rereadAfterRepair(ctx context.Context, id uuid.UUID) (*profile.Profile, error) {
	confirmed, err := m.fetchProfile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: re-read: %v", ErrRepairFailed, err)
	}
	if confirmed != nil {
		return confirmed, nil
	}

	select {
	case <-time.After(m.cfg.RepairRereadDelay):
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrRepairFailed, ctx.Err())
	}

	confirmed, err = m.fetchProfile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: re-read: %v", ErrRepairFailed, err)
	}
	if confirmed == nil {
		return nil, fmt.Errorf("%w: row not visible after upsert", ErrRepairFailed)
	}
	return confirmed, nil
}

// deriveProfile synthesizes a minimal valid profile from identity metadata,
// the email local-part, or a generated fallback.
func deriveProfile(ident identity.Identity, language string) *profile.Profile {
	username := profile.NormalizeUsername(ident.Metadata["username"])
	if username == "" {
		username = profile.NormalizeUsername(emailLocalPart(ident.Email))
	}
	if username == "" {
		username = fallbackUsername(ident.ID)
	}

	fullName := strings.TrimSpace(ident.Metadata["full_name"])
	if fullName == "" {
		fullName = username
	}

	return &profile.Profile{
		ID:       ident.ID,
		Username: username,
		FullName: fullName,
		Email:    ident.Email,
		Role:     profile.RoleUser,
		Phone:    ident.Metadata["phone"],
		Language: language,
	}
}

func emailLocalPart(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return ""
}

func fallbackUsername(id uuid.UUID) string {
	short := strings.ReplaceAll(id.String(), "-", "")[:8]
	return "user_" + short
}
