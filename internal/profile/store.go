package profile

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// FieldUpdate is a partial, user-initiated profile edit. Nil pointers leave
// the column untouched. Username renames must go through the one-time rename
// rule in the lifecycle layer; StampUsernameChange records that the rename
// has been consumed.
type FieldUpdate struct {
	Username            *string
	FullName            *string
	District            *string
	Phone               *string
	AvatarURL           *string
	StampUsernameChange bool
}

// Store is the port to the profiles table.
//
// Find returns sentinel.ErrNotFound for a missing row. Upsert is
// insert-or-update on the primary key: concurrent first writes for the same
// id must converge to one row rather than erroring. A username uniqueness
// violation surfaces as sentinel.ErrConflict. A missing profiles table
// surfaces as sentinel.ErrSchemaMissing from any operation.
type Store interface {
	Find(ctx context.Context, id uuid.UUID) (*Profile, error)
	Upsert(ctx context.Context, p *Profile) (*Profile, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role Role) error
	UpdateLanguage(ctx context.Context, id uuid.UUID, language string) error
	UpdateFields(ctx context.Context, id uuid.UUID, upd FieldUpdate, now time.Time) (*Profile, error)
}
