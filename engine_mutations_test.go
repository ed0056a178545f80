package grantkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssign(t *testing.T) {
	ctx := context.Background()

	t.Run("Permanent grant", func(t *testing.T) {
		h := newTestHarness(t)

		grant, err := h.engine.Assign(ctx, "user1", RoleModerator, nil)
		require.NoError(t, err)

		assert.Equal(t, "user1", grant.UserID)
		assert.Equal(t, RoleModerator, grant.Role)
		assert.False(t, grant.IsTemporary)
		assert.Nil(t, grant.ExpiresAt)
		assert.Equal(t, StateActive, grant.State())
	})

	t.Run("Temporary grant", func(t *testing.T) {
		h := newTestHarness(t)
		until := h.in(30 * 24 * time.Hour)

		grant, err := h.engine.Assign(ctx, "user1", RoleModerator, until)
		require.NoError(t, err)

		assert.True(t, grant.IsTemporary)
		require.NotNil(t, grant.ExpiresAt)
		assert.True(t, grant.ExpiresAt.Equal(*until))
		assert.Equal(t, StateActiveTemporary, grant.State())
	})

	t.Run("Invalid role", func(t *testing.T) {
		h := newTestHarness(t)

		_, err := h.engine.Assign(ctx, "user1", Role("superuser"), nil)
		assert.ErrorIs(t, err, ErrInvalidRole)
		assert.Equal(t, 0, h.store.Len())
	})

	t.Run("Empty user", func(t *testing.T) {
		h := newTestHarness(t)

		_, err := h.engine.Assign(ctx, "", RoleUser, nil)
		assert.ErrorIs(t, err, ErrInvalidUser)
	})

	t.Run("Past expiration", func(t *testing.T) {
		h := newTestHarness(t)
		past := h.in(-time.Hour)

		_, err := h.engine.Assign(ctx, "user1", RoleModerator, past)
		assert.ErrorIs(t, err, ErrInvalidExpiration)
		assert.Equal(t, 0, h.store.Len())
	})

	t.Run("Expiration equal to now is rejected", func(t *testing.T) {
		h := newTestHarness(t)
		now := h.clock.Now()

		_, err := h.engine.Assign(ctx, "user1", RoleModerator, &now)
		assert.ErrorIs(t, err, ErrInvalidExpiration)
	})

	t.Run("Reassign is an idempotent upsert", func(t *testing.T) {
		h := newTestHarness(t)
		first := h.mustAssign(t, "user1", RoleModerator, h.in(48*time.Hour))

		// Re-assigning converts to permanent instead of erroring.
		second, err := h.engine.Assign(ctx, "user1", RoleModerator, nil)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID, "upsert keeps the grant identity")
		assert.False(t, second.IsTemporary)
		assert.Nil(t, second.ExpiresAt)
		assert.Equal(t, 1, h.store.Len(), "no duplicate grant created")
	})

	t.Run("Reassign clears reminder flags", func(t *testing.T) {
		h := newTestHarness(t)
		h.mustAssign(t, "user1", RoleModerator, h.in(time.Hour))

		// Drive the grant through a reminder.
		_, err := h.engine.RunExpirationSweep(ctx, SweepOptions{})
		require.NoError(t, err)
		g, err := h.store.GetGrant(ctx, "user1", RoleModerator)
		require.NoError(t, err)
		require.True(t, g.Reminder1DaySent)

		h.mustAssign(t, "user1", RoleModerator, h.in(200*time.Hour))
		g, err = h.store.GetGrant(ctx, "user1", RoleModerator)
		require.NoError(t, err)
		assert.False(t, g.Reminder3DaySent)
		assert.False(t, g.Reminder1DaySent)
	})

	t.Run("One audit record per call", func(t *testing.T) {
		h := newTestHarness(t)
		h.mustAssign(t, "user1", RoleUser, nil)
		h.mustAssign(t, "user1", RoleUser, nil)
		h.mustAssign(t, "user1", RoleUser, nil)

		records := h.audit.Records()
		require.Len(t, records, 3)
		for _, rec := range records {
			assert.Equal(t, AuditActionAssigned, rec.Action)
			assert.Equal(t, "user1", rec.UserID)
		}
		assert.Equal(t, 1, h.store.Len())
	})

	t.Run("Actor and request metadata from context", func(t *testing.T) {
		h := newTestHarness(t)
		actx := WithActorID(ctx, "admin42")
		actx = WithIPAddress(actx, "10.0.0.9")
		actx = WithRequestID(actx, "req-7")

		_, err := h.engine.Assign(actx, "user1", RoleUser, nil)
		require.NoError(t, err)

		rec := h.lastAudit()
		require.NotNil(t, rec)
		assert.Equal(t, "admin42", rec.PerformedBy)
		assert.Equal(t, "10.0.0.9", rec.IPAddress)
		assert.Equal(t, "req-7", rec.RequestID)
	})

	t.Run("Notification carries grant details", func(t *testing.T) {
		h := newTestHarness(t)
		grant := h.mustAssign(t, "user1", RoleModerator, h.in(time.Hour))

		events := h.dispatcher.EventsOfType(NotificationAssigned)
		require.Len(t, events, 1)
		assert.Equal(t, grant.ID, events[0].GrantID)
		assert.Equal(t, "user1", events[0].UserID)
		assert.NotEmpty(t, events[0].DedupKey)
		assert.NotEmpty(t, events[0].CorrelationID)
	})

	t.Run("Notification failure does not roll back the grant", func(t *testing.T) {
		h := newTestHarness(t)
		h.dispatcher.FailWith = assert.AnError

		grant, err := h.engine.Assign(ctx, "user1", RoleUser, nil)
		require.NoError(t, err)
		assert.NotNil(t, grant)

		stored, err := h.store.GetGrant(ctx, "user1", RoleUser)
		require.NoError(t, err)
		assert.Equal(t, grant.ID, stored.ID)
	})
}

func TestRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("Removes an existing grant", func(t *testing.T) {
		h := newTestHarness(t)
		h.mustAssign(t, "user1", RoleModerator, nil)

		require.NoError(t, h.engine.Remove(ctx, "user1", RoleModerator))

		_, err := h.store.GetGrant(ctx, "user1", RoleModerator)
		assert.ErrorIs(t, err, ErrGrantNotFound)

		rec := h.lastAudit()
		require.NotNil(t, rec)
		assert.Equal(t, AuditActionRemoved, rec.Action)
		assert.Equal(t, "permanent", rec.OldValue)
		assert.Empty(t, rec.NewValue)
	})

	t.Run("Missing grant is a distinct error", func(t *testing.T) {
		h := newTestHarness(t)

		err := h.engine.Remove(ctx, "ghost", RoleUser)
		assert.ErrorIs(t, err, ErrGrantNotFound)
	})

	t.Run("Last admin is protected", func(t *testing.T) {
		h := newTestHarness(t)
		h.mustAssign(t, "user1", RoleAdmin, nil)

		err := h.engine.Remove(ctx, "user1", RoleAdmin)
		assert.ErrorIs(t, err, ErrLastAdmin)

		// The grant is unchanged.
		g, gerr := h.store.GetGrant(ctx, "user1", RoleAdmin)
		require.NoError(t, gerr)
		assert.Equal(t, RoleAdmin, g.Role)

		// Refusal leaves no removal audit trail.
		for _, rec := range h.audit.Records() {
			assert.NotEqual(t, AuditActionRemoved, rec.Action)
		}
	})

	t.Run("Second admin unlocks removal", func(t *testing.T) {
		h := newTestHarness(t)
		h.mustAssign(t, "user1", RoleAdmin, nil)
		h.mustAssign(t, "user2", RoleAdmin, nil)

		require.NoError(t, h.engine.Remove(ctx, "user1", RoleAdmin))

		_, err := h.store.GetGrant(ctx, "user1", RoleAdmin)
		assert.ErrorIs(t, err, ErrGrantNotFound)

		// The other admin is unaffected.
		_, err = h.store.GetGrant(ctx, "user2", RoleAdmin)
		assert.NoError(t, err)
	})

	t.Run("Non-admin roles skip the admin count", func(t *testing.T) {
		h := newTestHarness(t)
		h.mustAssign(t, "user1", RoleModerator, nil)

		assert.NoError(t, h.engine.Remove(ctx, "user1", RoleModerator))
	})
}

func TestExtend(t *testing.T) {
	ctx := context.Background()

	t.Run("Moves the expiration forward and resets flags", func(t *testing.T) {
		h := newTestHarness(t)
		h.mustAssign(t, "user1", RoleModerator, h.in(time.Hour))

		// Cross both reminder thresholds first.
		_, err := h.engine.RunExpirationSweep(ctx, SweepOptions{})
		require.NoError(t, err)

		prev, err := h.store.GetGrant(ctx, "user1", RoleModerator)
		require.NoError(t, err)
		require.True(t, prev.Reminder1DaySent)

		newExpiry := h.clock.Now().Add(240 * time.Hour)
		grant, err := h.engine.Extend(ctx, "user1", RoleModerator, newExpiry)
		require.NoError(t, err)

		require.NotNil(t, grant.ExpiresAt)
		assert.True(t, grant.ExpiresAt.Equal(newExpiry))
		assert.False(t, grant.Reminder3DaySent, "extend resets the 3-day flag")
		assert.False(t, grant.Reminder1DaySent, "extend resets the 1-day flag")

		rec := h.lastAudit()
		require.NotNil(t, rec)
		assert.Equal(t, AuditActionExtended, rec.Action)
		assert.Contains(t, rec.OldValue, "temporary until")
		assert.Contains(t, rec.NewValue, newExpiry.UTC().Format("2006-01-02"))
	})

	t.Run("Missing grant", func(t *testing.T) {
		h := newTestHarness(t)

		_, err := h.engine.Extend(ctx, "ghost", RoleModerator, h.clock.Now().Add(time.Hour))
		assert.ErrorIs(t, err, ErrGrantNotFound)
	})

	t.Run("Permanent grant cannot be extended", func(t *testing.T) {
		h := newTestHarness(t)
		h.mustAssign(t, "user1", RoleModerator, nil)

		_, err := h.engine.Extend(ctx, "user1", RoleModerator, h.clock.Now().Add(time.Hour))
		assert.ErrorIs(t, err, ErrNotTemporary)
	})

	t.Run("Extension is forward-only", func(t *testing.T) {
		h := newTestHarness(t)
		until := h.in(100 * time.Hour)
		h.mustAssign(t, "user1", RoleModerator, until)

		// Shortening must go through Remove plus Assign, not Extend.
		_, err := h.engine.Extend(ctx, "user1", RoleModerator, until.Add(-time.Hour))
		assert.ErrorIs(t, err, ErrInvalidExpiration)

		_, err = h.engine.Extend(ctx, "user1", RoleModerator, *until)
		assert.ErrorIs(t, err, ErrInvalidExpiration, "equal expiration is not an extension")

		// Failed extends leave the grant untouched.
		g, gerr := h.store.GetGrant(ctx, "user1", RoleModerator)
		require.NoError(t, gerr)
		assert.True(t, g.ExpiresAt.Equal(*until))
	})
}

// TestLastAdminScenario drives the documented admin hand-over sequence.
func TestLastAdminScenario(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	h.mustAssign(t, "u1", RoleAdmin, nil)

	err := h.engine.Remove(ctx, "u1", RoleAdmin)
	require.ErrorIs(t, err, ErrLastAdmin)

	h.mustAssign(t, "u2", RoleAdmin, nil)

	require.NoError(t, h.engine.Remove(ctx, "u1", RoleAdmin))

	_, err = h.store.GetGrant(ctx, "u1", RoleAdmin)
	assert.ErrorIs(t, err, ErrGrantNotFound)

	g, err := h.store.GetGrant(ctx, "u2", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, g.Role)

	admins, err := h.store.CountUsersWithRole(ctx, RoleAdmin)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, admins, 1, "at least one admin must always exist")
}
