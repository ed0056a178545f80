package grantkit

import (
	"context"
	"time"
)

// RoleStore is the durable storage of grants, keyed by (user, role).
type RoleStore interface {
	// GetGrant returns the grant for a (user, role) pair, or ErrGrantNotFound.
	GetGrant(ctx context.Context, userID string, role Role) (*RoleGrant, error)

	// UpsertGrant creates or replaces the grant for its (user, role) pair.
	UpsertGrant(ctx context.Context, grant *RoleGrant) error

	// DeleteGrant removes the grant for a (user, role) pair, or returns
	// ErrGrantNotFound if none exists.
	DeleteGrant(ctx context.Context, userID string, role Role) error

	// ListGrantsExpiringBefore returns temporary grants with an expiration
	// at or before ts, ordered by grant ID, starting after afterID. Pass an
	// empty afterID for the first page. Used by the sweep's paged scan.
	ListGrantsExpiringBefore(ctx context.Context, ts time.Time, afterID string, limit int) ([]RoleGrant, error)

	// CountUsersWithRole returns the number of users holding the role.
	CountUsersWithRole(ctx context.Context, role Role) (int, error)

	// Mutate runs fn against a store view scoped to one atomic unit for the
	// (user, role) key, so an invariant check and the mutation it guards
	// cannot interleave with a concurrent mutation of the same key. If fn
	// returns an error no effect is applied.
	Mutate(ctx context.Context, userID string, role Role, fn func(ctx context.Context, store RoleStore) error) error
}

// AuditLog is an append-only record of every lifecycle mutation.
type AuditLog interface {
	Append(ctx context.Context, record *AuditRecord) error
}

// NotificationDispatcher delivers lifecycle notices best-effort. The engine
// never blocks a mutation on delivery; implementations are expected to
// deduplicate on Event.DedupKey and carry their own timeout/retry policy.
type NotificationDispatcher interface {
	Notify(ctx context.Context, event Event) error
}
