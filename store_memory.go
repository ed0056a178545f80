package grantkit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// grantKey identifies a grant's atomic unit.
type grantKey struct {
	userID string
	role   Role
}

// MemoryStore is an in-memory RoleStore for tests and embedded use.
//
// Mutate holds the store lock for the whole unit of work and restores a
// snapshot when fn fails, so units are atomic and serialized exactly like
// the SQL store's transactions.
type MemoryStore struct {
	mu     sync.RWMutex
	grants map[grantKey]*RoleGrant
}

// NewMemoryStore creates an empty in-memory RoleStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grants: make(map[grantKey]*RoleGrant),
	}
}

// GetGrant returns the grant for a (user, role) pair, or ErrGrantNotFound.
func (s *MemoryStore) GetGrant(ctx context.Context, userID string, role Role) (*RoleGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetGrant(ctx, userID, role)
}

// UpsertGrant creates or replaces the grant for its (user, role) pair.
func (s *MemoryStore) UpsertGrant(ctx context.Context, grant *RoleGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpsertGrant(ctx, grant)
}

// DeleteGrant removes the grant for a (user, role) pair.
func (s *MemoryStore) DeleteGrant(ctx context.Context, userID string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().DeleteGrant(ctx, userID, role)
}

// ListGrantsExpiringBefore returns temporary grants expiring at or before
// ts, ordered by grant ID for keyset pagination.
func (s *MemoryStore) ListGrantsExpiringBefore(ctx context.Context, ts time.Time, afterID string, limit int) ([]RoleGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListGrantsExpiringBefore(ctx, ts, afterID, limit)
}

// CountUsersWithRole returns the number of users holding the role.
func (s *MemoryStore) CountUsersWithRole(ctx context.Context, role Role) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().CountUsersWithRole(ctx, role)
}

// Mutate runs fn while holding the store lock. If fn fails the previous
// state is restored, so no partial effect is observable.
func (s *MemoryStore) Mutate(ctx context.Context, userID string, role Role, fn func(ctx context.Context, store RoleStore) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[grantKey]*RoleGrant, len(s.grants))
	for k, g := range s.grants {
		snapshot[k] = g.Clone()
	}

	if err := fn(ctx, s.view()); err != nil {
		s.grants = snapshot
		return err
	}
	return nil
}

// Len returns the number of stored grants.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.grants)
}

// view returns the lock-free operations; callers hold the lock.
func (s *MemoryStore) view() *memoryView {
	return &memoryView{store: s}
}

// memoryView implements RoleStore against the maps without locking. It is
// handed to Mutate callbacks while the outer lock is held.
type memoryView struct {
	store *MemoryStore
}

func (v *memoryView) GetGrant(_ context.Context, userID string, role Role) (*RoleGrant, error) {
	g, ok := v.store.grants[grantKey{userID, role}]
	if !ok {
		return nil, NewError(ErrGrantNotFound, "no grant for user").
			WithUser(userID).
			WithRole(role)
	}
	return g.Clone(), nil
}

func (v *memoryView) UpsertGrant(_ context.Context, grant *RoleGrant) error {
	if grant.ID == "" {
		grant.ID = newID()
	}
	v.store.grants[grantKey{grant.UserID, grant.Role}] = grant.Clone()
	return nil
}

func (v *memoryView) DeleteGrant(_ context.Context, userID string, role Role) error {
	key := grantKey{userID, role}
	if _, ok := v.store.grants[key]; !ok {
		return NewError(ErrGrantNotFound, "no grant for user").
			WithUser(userID).
			WithRole(role)
	}
	delete(v.store.grants, key)
	return nil
}

func (v *memoryView) ListGrantsExpiringBefore(_ context.Context, ts time.Time, afterID string, limit int) ([]RoleGrant, error) {
	var out []RoleGrant
	for _, g := range v.store.grants {
		if !g.IsTemporary || g.ExpiresAt == nil || g.ExpiresAt.After(ts) {
			continue
		}
		if afterID != "" && g.ID <= afterID {
			continue
		}
		out = append(out, *g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v *memoryView) CountUsersWithRole(_ context.Context, role Role) (int, error) {
	count := 0
	for key := range v.store.grants {
		if key.role == role {
			count++
		}
	}
	return count, nil
}

// Mutate on a view runs fn directly; the outer unit already owns the lock.
func (v *memoryView) Mutate(ctx context.Context, _ string, _ Role, fn func(ctx context.Context, store RoleStore) error) error {
	return fn(ctx, v)
}

// MemoryAuditLog is an append-only in-memory AuditLog.
type MemoryAuditLog struct {
	mu      sync.Mutex
	records []AuditRecord
}

// NewMemoryAuditLog creates an empty in-memory audit log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// Append stores a copy of the record.
func (l *MemoryAuditLog) Append(_ context.Context, record *AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if record.ID == "" {
		record.ID = newID()
	}
	l.records = append(l.records, *record)
	return nil
}

// Records returns a copy of all appended records in order.
func (l *MemoryAuditLog) Records() []AuditRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditRecord, len(l.records))
	copy(out, l.records)
	return out
}

// MemoryDispatcher is an in-memory NotificationDispatcher that deduplicates
// on Event.DedupKey, the way a production transport is expected to.
type MemoryDispatcher struct {
	mu        sync.Mutex
	delivered []Event
	seen      map[string]struct{}

	// FailWith, when set, is returned by Notify without recording the
	// event. Used to exercise the engine's best-effort delivery path.
	FailWith error
}

// NewMemoryDispatcher creates an empty in-memory dispatcher.
func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{
		seen: make(map[string]struct{}),
	}
}

// Notify records the event unless its dedup key was already delivered.
func (d *MemoryDispatcher) Notify(_ context.Context, event Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.FailWith != nil {
		return d.FailWith
	}
	if _, ok := d.seen[event.DedupKey]; ok {
		return nil
	}
	d.seen[event.DedupKey] = struct{}{}
	d.delivered = append(d.delivered, event)
	return nil
}

// Events returns a copy of all delivered events in order.
func (d *MemoryDispatcher) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.delivered))
	copy(out, d.delivered)
	return out
}

// EventsOfType filters delivered events by type.
func (d *MemoryDispatcher) EventsOfType(typ NotificationType) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Event
	for _, ev := range d.delivered {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
