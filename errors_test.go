package grantkit

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Run("Message formatting", func(t *testing.T) {
		err := NewError(ErrLastAdmin, "refusing to remove the only remaining admin")
		assert.Equal(t, "grantkit: cannot remove the last admin: refusing to remove the only remaining admin", err.Error())
	})

	t.Run("Without message", func(t *testing.T) {
		err := &Error{Err: ErrGrantNotFound}
		assert.Equal(t, ErrGrantNotFound.Error(), err.Error())
	})

	t.Run("Unwrap and Is", func(t *testing.T) {
		err := NewError(ErrNotTemporary, "only temporary grants can be extended").
			WithUser("user1").
			WithRole(RoleModerator)

		assert.ErrorIs(t, err, ErrNotTemporary)
		assert.NotErrorIs(t, err, ErrGrantNotFound)
		assert.Equal(t, ErrNotTemporary, errors.Unwrap(err))
	})

	t.Run("Is through wrapping", func(t *testing.T) {
		inner := NewError(ErrLastAdmin, "refused").WithUser("u1")
		wrapped := fmt.Errorf("bulk unit: %w", inner)

		assert.ErrorIs(t, wrapped, ErrLastAdmin)

		var e *Error
		assert.ErrorAs(t, wrapped, &e)
		assert.Equal(t, "u1", e.UserID)
	})

	t.Run("Context chain", func(t *testing.T) {
		err := NewError(ErrInvalidExpiration, "expiration must be strictly in the future").
			WithUser("user1").
			WithRole(RoleAdmin).
			WithActor("admin9")

		assert.Equal(t, "user1", err.UserID)
		assert.Equal(t, RoleAdmin, err.Role)
		assert.Equal(t, "admin9", err.ActorID)
	})

	t.Run("WithExpiry appends the timestamp", func(t *testing.T) {
		at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		err := NewError(ErrInvalidExpiration, "bad expiry").WithExpiry(at)
		assert.Contains(t, err.Error(), "2026-01-02T03:04:05Z")
	})

	t.Run("Safety refusal is distinguishable", func(t *testing.T) {
		// Callers must be able to tell a deliberate refusal from an
		// infrastructure failure.
		refusal := NewError(ErrLastAdmin, "refused")
		outage := wrapStoreErr(errors.New("connection reset"), "DeleteGrant")

		assert.ErrorIs(t, refusal, ErrLastAdmin)
		assert.NotErrorIs(t, refusal, ErrStoreUnavailable)
		assert.ErrorIs(t, outage, ErrStoreUnavailable)
		assert.NotErrorIs(t, outage, ErrLastAdmin)
	})

	t.Run("wrapStoreErr passes nil through", func(t *testing.T) {
		assert.NoError(t, wrapStoreErr(nil, "GetGrant"))
	})
}
