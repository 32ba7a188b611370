package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and provider clients return
// these (optionally wrapped) so the lifecycle layer can translate them into
// user-facing failures.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the store
// - ErrConflict: a uniqueness constraint rejected the write
// - ErrSchemaMissing: the backing table itself is absent
// - ErrUnavailable: service or resource temporarily unavailable
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrSchemaMissing = errors.New("schema missing")
	ErrUnavailable   = errors.New("unavailable")
)
