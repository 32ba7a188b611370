package lifecycle

import (
	"errors"

	"agrimitra/internal/lifecycle/state"
	"agrimitra/pkg/platform/sentinel"
)

// classify maps an unrecoverable resolution failure onto the user-facing
// taxonomy. Schema problems are named outright so the message points at the
// real cause instead of a generic "try again".
func classify(err error) *state.Failure {
	switch {
	case errors.Is(err, sentinel.ErrSchemaMissing):
		return &state.Failure{
			Kind:    state.FailureSchema,
			Message: "The profiles table is missing. Run the database migrations and retry.",
		}
	case errors.Is(err, ErrRepairFailed):
		return &state.Failure{
			Kind:    state.FailureRepair,
			Message: "We could not set up your profile. Sign out and back in, or contact support.",
		}
	default:
		return &state.Failure{
			Kind:    state.FailureTransient,
			Message: "Could not reach the server. Check your connection and retry.",
		}
	}
}
