// Package postgres persists profiles in PostgreSQL. The store is pure I/O;
// all lifecycle rules (repair, rename gating, promotion) live in the
// lifecycle layer.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"agrimitra/internal/profile"
	"agrimitra/pkg/platform/sentinel"
)

const profileColumns = `id, username, full_name, email, role, verified, district, phone, avatar_url,
		language, username_changed_at, questions_count, answers_count, listings_count, trust_score,
		created_at, updated_at`

// Store is the PostgreSQL-backed profile store.
type Store struct {
	db *sql.DB
}

// New constructs a PostgreSQL-backed profile store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Find(ctx context.Context, id uuid.UUID) (*profile.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	p, err := scanProfile(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, classify("find profile", err)
	}
	return p, nil
}

// Upsert inserts the profile, or on primary-key conflict converges to the
// existing row (refreshing only the denormalized email). Two near-simultaneous
// first logins both land on the same row.
func (s *Store) Upsert(ctx context.Context, p *profile.Profile) (*profile.Profile, error) {
	query := `
		INSERT INTO profiles (id, username, full_name, email, role, verified, district, phone, avatar_url, language)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			updated_at = NOW()
		RETURNING ` + profileColumns
	row := s.db.QueryRowContext(ctx, query,
		p.ID,
		p.Username,
		p.FullName,
		p.Email,
		string(p.Role),
		p.Verified,
		p.District,
		p.Phone,
		p.AvatarURL,
		p.Language,
	)
	stored, err := scanProfile(row)
	if err != nil {
		return nil, classify("upsert profile", err)
	}
	return stored, nil
}

func (s *Store) UpdateRole(ctx context.Context, id uuid.UUID, role profile.Role) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET role = $2, updated_at = NOW() WHERE id = $1`, id, string(role))
	if err != nil {
		return classify("update role", err)
	}
	return requireRow(result, "update role")
}

func (s *Store) UpdateLanguage(ctx context.Context, id uuid.UUID, language string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET language = $2, updated_at = NOW() WHERE id = $1`, id, language)
	if err != nil {
		return classify("update language", err)
	}
	return requireRow(result, "update language")
}

func (s *Store) UpdateFields(ctx context.Context, id uuid.UUID, upd profile.FieldUpdate, now time.Time) (*profile.Profile, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.Username != nil {
		add("username", *upd.Username)
	}
	if upd.FullName != nil {
		add("full_name", *upd.FullName)
	}
	if upd.District != nil {
		add("district", *upd.District)
	}
	if upd.Phone != nil {
		add("phone", *upd.Phone)
	}
	if upd.AvatarURL != nil {
		add("avatar_url", *upd.AvatarURL)
	}
	if upd.StampUsernameChange {
		add("username_changed_at", now)
	}

	query := `UPDATE profiles SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + profileColumns
	p, err := scanProfile(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, classify("update profile", err)
	}
	return p, nil
}

type row interface {
	Scan(dest ...any) error
}

func scanProfile(r row) (*profile.Profile, error) {
	var p profile.Profile
	var role string
	var changedAt sql.NullTime
	err := r.Scan(
		&p.ID,
		&p.Username,
		&p.FullName,
		&p.Email,
		&role,
		&p.Verified,
		&p.District,
		&p.Phone,
		&p.AvatarURL,
		&p.Language,
		&changedAt,
		&p.Stats.Questions,
		&p.Stats.Answers,
		&p.Stats.Listings,
		&p.Stats.TrustScore,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Role = profile.Role(role)
	if changedAt.Valid {
		p.UsernameChangedAt = &changedAt.Time
	}
	return &p, nil
}

func requireRow(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// classify maps driver errors onto sentinels so the lifecycle layer can name
// the real cause: 42P01 means the profiles table itself is absent, 23505 a
// username collision.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42P01":
			return fmt.Errorf("%s: %w: %v", op, sentinel.ErrSchemaMissing, err)
		case "23505":
			return fmt.Errorf("%s: %w: %v", op, sentinel.ErrConflict, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
