package grantkit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/fernandezvara/dbkit"
)

// SQLStore is the DBKit-backed RoleStore.
//
// Mutate runs its unit of work inside a serializable transaction, so the
// invariant check and mutation of one (user, role) key commit or fail as a
// whole; concurrent units on the same rows serialize at the database.
type SQLStore struct {
	db      dbkit.IDB
	monitor *storeMonitor
}

// NewSQLStore creates a RoleStore backed by a DBKit database handle.
//
// Example:
//
//	db, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	store := grantkit.NewSQLStore(db)
func NewSQLStore(db dbkit.IDB) *SQLStore {
	return &SQLStore{
		db:      db,
		monitor: newStoreMonitor(),
	}
}

// GetGrant returns the grant for a (user, role) pair, or ErrGrantNotFound.
func (s *SQLStore) GetGrant(ctx context.Context, userID string, role Role) (*RoleGrant, error) {
	var grant RoleGrant
	err := dbkit.WithErr1(s.db.NewSelect().Model(&grant).
		Where("user_id = ? AND role = ?", userID, string(role)).
		Limit(1).
		Scan(ctx), "GetGrant").Err()
	if err != nil {
		if dbkit.IsNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, NewError(ErrGrantNotFound, "no grant for user").
				WithUser(userID).
				WithRole(role)
		}
		return nil, wrapStoreErr(err, "GetGrant")
	}
	return &grant, nil
}

// UpsertGrant creates or replaces the grant for its (user, role) pair.
func (s *SQLStore) UpsertGrant(ctx context.Context, grant *RoleGrant) error {
	if grant.ID == "" {
		grant.ID = newID()
	}
	result, err := s.db.NewInsert().Model(grant).
		On("CONFLICT (user_id, role) DO UPDATE").
		Set("is_temporary = EXCLUDED.is_temporary").
		Set("expires_at = EXCLUDED.expires_at").
		Set("reminder_3day_sent = EXCLUDED.reminder_3day_sent").
		Set("reminder_1day_sent = EXCLUDED.reminder_1day_sent").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err := dbkit.WithErr(result, err, "UpsertGrant").Err(); err != nil {
		return wrapStoreErr(err, "UpsertGrant")
	}
	return nil
}

// DeleteGrant removes the grant for a (user, role) pair.
func (s *SQLStore) DeleteGrant(ctx context.Context, userID string, role Role) error {
	result, err := s.db.NewDelete().Table("role_grants").
		Where("user_id = ? AND role = ?", userID, string(role)).
		Exec(ctx)
	if err := dbkit.WithErr(result, err, "DeleteGrant").Err(); err != nil {
		return wrapStoreErr(err, "DeleteGrant")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return NewError(ErrGrantNotFound, "no grant for user").
			WithUser(userID).
			WithRole(role)
	}
	return nil
}

// ListGrantsExpiringBefore returns temporary grants with an expiration at or
// before ts, ordered by grant ID for keyset pagination.
func (s *SQLStore) ListGrantsExpiringBefore(ctx context.Context, ts time.Time, afterID string, limit int) ([]RoleGrant, error) {
	var grants []RoleGrant
	q := s.db.NewSelect().Model(&grants).
		Where("is_temporary AND expires_at <= ?", ts)
	if afterID != "" {
		q = q.Where("id > ?", afterID)
	}
	err := dbkit.WithErr1(q.Order("id ASC").Limit(limit).Scan(ctx), "ListGrantsExpiringBefore").Err()
	if err != nil {
		if dbkit.IsNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapStoreErr(err, "ListGrantsExpiringBefore")
	}
	return grants, nil
}

// CountUsersWithRole returns the number of users holding the role.
func (s *SQLStore) CountUsersWithRole(ctx context.Context, role Role) (int, error) {
	count, err := dbkit.Count[RoleGrant](ctx, s.db, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("role = ?", string(role))
	})
	if err != nil {
		return 0, wrapStoreErr(err, "CountUsersWithRole")
	}
	return count, nil
}

// Mutate runs fn against a transaction-scoped store. On an outer handle a
// serializable transaction is begun; inside a transaction a savepoint is
// used, matching DBKit's nesting behavior.
func (s *SQLStore) Mutate(ctx context.Context, userID string, role Role, fn func(ctx context.Context, store RoleStore) error) error {
	start := time.Now()
	var err error

	switch db := s.db.(type) {
	case *dbkit.Tx:
		err = db.Transaction(ctx, func(tx *dbkit.Tx) error {
			return fn(ctx, &SQLStore{db: tx, monitor: s.monitor})
		})
	case *dbkit.DBKit:
		err = db.TransactionWithOptions(ctx, dbkit.SerializableTxOptions(), func(tx *dbkit.Tx) error {
			return fn(ctx, &SQLStore{db: tx, monitor: s.monitor})
		})
	default:
		err = fn(ctx, s)
	}

	s.monitor.record(time.Since(start), err == nil)
	return err
}

// Metrics returns transaction statistics for the store's atomic units.
func (s *SQLStore) Metrics() StoreMetrics {
	return s.monitor.metrics()
}

// ResetMetrics clears the store's transaction statistics.
func (s *SQLStore) ResetMetrics() {
	s.monitor.reset()
}

// SQLAuditLog is the DBKit-backed append-only audit log.
type SQLAuditLog struct {
	db dbkit.IDB
}

// NewSQLAuditLog creates an AuditLog backed by a DBKit database handle.
func NewSQLAuditLog(db dbkit.IDB) *SQLAuditLog {
	return &SQLAuditLog{db: db}
}

// Append durably writes one audit record. Records are never edited or
// deleted afterwards.
func (l *SQLAuditLog) Append(ctx context.Context, record *AuditRecord) error {
	if record.ID == "" {
		record.ID = newID()
	}
	_, err := l.db.NewInsert().Model(record).Exec(ctx)
	if err := dbkit.WithErr1(err, "AppendAudit").Err(); err != nil {
		return wrapStoreErr(err, "AppendAudit")
	}
	return nil
}
