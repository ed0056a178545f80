package grantkit

import (
	"context"
	"errors"
	"time"
)

// ============================================================================
// GRANT MUTATION OPERATIONS
// ============================================================================

// Assign grants a role to a user, optionally time-bounded. Re-assigning a
// role the user already holds is an idempotent upsert: the expiration and
// temporary flag are updated instead of erroring, and both reminder flags
// are cleared so a fresh reminder schedule applies.
//
// Example:
//
//	until := time.Now().Add(30 * 24 * time.Hour)
//	grant, err := engine.Assign(ctx, userID, grantkit.RoleModerator, &until)
func (e *Engine) Assign(ctx context.Context, userID string, role Role, expiresAt *time.Time) (*RoleGrant, error) {
	if err := role.Validate(); err != nil {
		e.metrics.mutationErrors.WithLabelValues("assign").Inc()
		return nil, err
	}
	if userID == "" {
		e.metrics.mutationErrors.WithLabelValues("assign").Inc()
		return nil, NewError(ErrInvalidUser, "user ID required").WithRole(role)
	}

	now := e.now()
	if expiresAt != nil && !expiresAt.After(now) {
		e.metrics.mutationErrors.WithLabelValues("assign").Inc()
		return nil, NewError(ErrInvalidExpiration, "expiration must be strictly in the future").
			WithUser(userID).
			WithRole(role).
			WithExpiry(*expiresAt)
	}

	var (
		grant *RoleGrant
		rec   *AuditRecord
	)
	err := e.store.Mutate(ctx, userID, role, func(ctx context.Context, store RoleStore) error {
		current, err := store.GetGrant(ctx, userID, role)
		if err != nil && !errors.Is(err, ErrGrantNotFound) {
			return err
		}

		g := &RoleGrant{
			UserID:      userID,
			Role:        role,
			IsTemporary: expiresAt != nil,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if expiresAt != nil {
			t := *expiresAt
			g.ExpiresAt = &t
		}
		if current != nil {
			g.ID = current.ID
			g.CreatedAt = current.CreatedAt
		} else {
			g.ID = newID()
		}

		if err := store.UpsertGrant(ctx, g); err != nil {
			return err
		}

		grant = g
		rec = e.newAuditRecord(ctx, userID, role, AuditActionAssigned, current.value(), g.value(), now)
		return nil
	})
	if err != nil {
		e.metrics.mutationErrors.WithLabelValues("assign").Inc()
		return nil, err
	}

	e.metrics.mutations.WithLabelValues("assign").Inc()
	e.appendAudit(ctx, rec)
	e.dispatch(ctx, Event{
		Type:      NotificationAssigned,
		GrantID:   grant.ID,
		UserID:    userID,
		Role:      role,
		ExpiresAt: grant.ExpiresAt,
		DedupKey:  oneShotDedupKey(grant.ID, NotificationAssigned),
	}, rec.ID)

	return grant.Clone(), nil
}

// Remove deletes a user's grant for a role. Removing the last admin is
// refused with ErrLastAdmin and no mutation; the count of other admins and
// the delete execute as one atomic unit, so two concurrent admin removals
// cannot both observe "more than one admin" and both succeed.
//
// Returns ErrGrantNotFound if the user does not hold the role; callers may
// treat that as a safe no-op.
func (e *Engine) Remove(ctx context.Context, userID string, role Role) error {
	if err := role.Validate(); err != nil {
		e.metrics.mutationErrors.WithLabelValues("remove").Inc()
		return err
	}

	now := e.now()
	var (
		removed *RoleGrant
		rec     *AuditRecord
	)
	err := e.store.Mutate(ctx, userID, role, func(ctx context.Context, store RoleStore) error {
		g, err := store.GetGrant(ctx, userID, role)
		if err != nil {
			return err
		}

		if role == RoleAdmin {
			admins, err := store.CountUsersWithRole(ctx, RoleAdmin)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return NewError(ErrLastAdmin, "refusing to remove the only remaining admin").
					WithUser(userID).
					WithRole(role)
			}
		}

		if err := store.DeleteGrant(ctx, userID, role); err != nil {
			return err
		}

		removed = g
		rec = e.newAuditRecord(ctx, userID, role, AuditActionRemoved, g.value(), "", now)
		return nil
	})
	if err != nil {
		e.metrics.mutationErrors.WithLabelValues("remove").Inc()
		return err
	}

	e.metrics.mutations.WithLabelValues("remove").Inc()
	e.appendAudit(ctx, rec)
	e.dispatch(ctx, Event{
		Type:     NotificationRemoved,
		GrantID:  removed.ID,
		UserID:   userID,
		Role:     role,
		DedupKey: oneShotDedupKey(removed.ID, NotificationRemoved),
	}, rec.ID)

	return nil
}

// Extend moves a temporary grant's expiration forward and resets both
// reminder flags, so a fresh reminder schedule applies to the new deadline.
// Extension is forward-only: shortening must go through Remove plus Assign.
//
// Returns ErrGrantNotFound, ErrNotTemporary, or ErrInvalidExpiration when
// the grant is absent, permanent, or the new expiration does not move
// strictly forward.
func (e *Engine) Extend(ctx context.Context, userID string, role Role, newExpiresAt time.Time) (*RoleGrant, error) {
	if err := role.Validate(); err != nil {
		e.metrics.mutationErrors.WithLabelValues("extend").Inc()
		return nil, err
	}

	now := e.now()
	var (
		grant *RoleGrant
		rec   *AuditRecord
	)
	err := e.store.Mutate(ctx, userID, role, func(ctx context.Context, store RoleStore) error {
		g, err := store.GetGrant(ctx, userID, role)
		if err != nil {
			return err
		}
		if !g.IsTemporary || g.ExpiresAt == nil {
			return NewError(ErrNotTemporary, "only temporary grants can be extended").
				WithUser(userID).
				WithRole(role)
		}
		if !newExpiresAt.After(*g.ExpiresAt) {
			return NewError(ErrInvalidExpiration, "extension must move the expiration forward").
				WithUser(userID).
				WithRole(role).
				WithExpiry(newExpiresAt)
		}

		oldValue := g.value()
		t := newExpiresAt
		g.ExpiresAt = &t
		g.Reminder3DaySent = false
		g.Reminder1DaySent = false
		g.UpdatedAt = now

		if err := store.UpsertGrant(ctx, g); err != nil {
			return err
		}

		grant = g
		rec = e.newAuditRecord(ctx, userID, role, AuditActionExtended, oldValue, g.value(), now)
		return nil
	})
	if err != nil {
		e.metrics.mutationErrors.WithLabelValues("extend").Inc()
		return nil, err
	}

	e.metrics.mutations.WithLabelValues("extend").Inc()
	e.appendAudit(ctx, rec)
	e.dispatch(ctx, Event{
		Type:      NotificationExtended,
		GrantID:   grant.ID,
		UserID:    userID,
		Role:      role,
		ExpiresAt: grant.ExpiresAt,
		DedupKey:  oneShotDedupKey(grant.ID, NotificationExtended),
	}, rec.ID)

	return grant.Clone(), nil
}
