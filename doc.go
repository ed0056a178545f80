// Package grantkit manages the lifecycle of permanent and time-bounded role
// grants: assignment, removal, forward-only extension, bulk operations, and a
// periodic expiration sweep that sends reminder notifications and expires
// grants exactly once per transition.
//
// GrantKit works with a fixed three-tier role set (admin, moderator, user)
// and enforces one system-wide safety rule under concurrent mutation: at
// least one admin grant must exist at all times. Neither an interactive
// removal nor the automated sweep is allowed to delete the last admin.
//
// # Core Concepts
//
// Grant: a record binding one user to one role, optionally time-bounded.
// A grant with a non-nil expiration is temporary; a permanent grant never
// expires. At most one grant exists per (user, role) pair.
//
// Sweep: a batch pass over temporary grants that sends a reminder three days
// before expiry, another one day before expiry, and finally expires the
// grant. Each transition is gated on a flag persisted with the grant, so the
// sweep is safe under any scheduler cadence, including skipped or
// overlapping invocations.
//
// Dedup key: every notification carries a (grant, type, day) key so a
// dispatcher can drop duplicates even when two sweeps race in the same
// window before flags commit.
//
// # Basic Usage
//
//	// 1. Create the store (DBKit-backed in production)
//	db, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	store := grantkit.NewSQLStore(db)
//	audit := grantkit.NewSQLAuditLog(db)
//
//	// 2. Run migrations
//	db.Migrate(ctx, grantkit.Migrations())
//
//	// 3. Create the engine with your notification dispatcher
//	engine := grantkit.NewEngine(store, audit, dispatcher)
//
//	// 4. Mutate grants
//	engine.Assign(ctx, userID, grantkit.RoleModerator, &expiresAt)
//	engine.Extend(ctx, userID, grantkit.RoleModerator, newExpiresAt)
//	engine.Remove(ctx, userID, grantkit.RoleModerator)
//
//	// 5. Let a scheduler drive the sweep (hourly works well)
//	report, _ := engine.RunExpirationSweep(ctx, grantkit.SweepOptions{})
//
// # Bulk Operations
//
// BulkAssign and BulkRemove apply the single-item operation independently
// per user under a bounded concurrency limit. A per-user failure (for
// example a refused last-admin removal) is captured in the result and does
// not abort the rest of the batch:
//
//	res, _ := engine.BulkRemove(ctx, userIDs, grantkit.RoleModerator)
//	for userID, err := range res.Errors {
//	    log.Printf("%s: %v", userID, err)
//	}
//
// # Audit Log
//
// Every lifecycle mutation appends an audit record with:
//   - Target user and role
//   - Action (assigned, removed, extended, expired, expiration_blocked)
//   - Actor who performed the change (from context, "system" for the sweep)
//   - Old and new grant values
//   - Request metadata (IP, user agent, request ID) when present in context
//
// # Notifications
//
// The engine never blocks a mutation on notification delivery. Dispatch
// happens strictly after the triggering mutation commits; a failure is
// logged with a correlation ID back to the audit record and swallowed.
package grantkit
