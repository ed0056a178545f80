package grantkit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ============================================================================
// BULK OPERATIONS
// ============================================================================

// BulkAssign grants a role to every user in userIDs, applying Assign
// independently per user under a bounded concurrency limit. Per-user
// failures land in the result; only structural errors (empty set, invalid
// role, bad expiration) fail the whole call before any per-user work starts.
//
// Example:
//
//	res, err := engine.BulkAssign(ctx, []string{"u1", "u2"}, grantkit.RoleModerator, &until)
//	log.Printf("assigned %d, failed %d", res.SuccessCount, res.FailureCount)
func (e *Engine) BulkAssign(ctx context.Context, userIDs []string, role Role, expiresAt *time.Time) (*BulkResult, error) {
	if err := e.validateBulkInput(userIDs, role); err != nil {
		return nil, err
	}
	if expiresAt != nil && !expiresAt.After(e.now()) {
		return nil, NewError(ErrInvalidExpiration, "expiration must be strictly in the future").
			WithRole(role).
			WithExpiry(*expiresAt)
	}

	return e.forEachUser(ctx, userIDs, func(ctx context.Context, userID string) error {
		_, err := e.Assign(ctx, userID, role, expiresAt)
		return err
	}), nil
}

// BulkRemove deletes a role from every user in userIDs, applying Remove
// independently per user under a bounded concurrency limit. A refused
// last-admin removal or a missing grant is captured per user and does not
// abort the rest of the batch.
func (e *Engine) BulkRemove(ctx context.Context, userIDs []string, role Role) (*BulkResult, error) {
	if err := e.validateBulkInput(userIDs, role); err != nil {
		return nil, err
	}

	return e.forEachUser(ctx, userIDs, func(ctx context.Context, userID string) error {
		return e.Remove(ctx, userID, role)
	}), nil
}

func (e *Engine) validateBulkInput(userIDs []string, role Role) error {
	if len(userIDs) == 0 {
		return NewError(ErrEmptyUserSet, "bulk operation requires at least one user").WithRole(role)
	}
	return role.Validate()
}

// forEachUser fans out fn per user under the engine's concurrency bound.
// Cancellation is cooperative: once ctx is done no new units start and the
// remaining users are recorded as failed with the context error, but units
// already in flight run to completion to avoid half-applied state.
func (e *Engine) forEachUser(ctx context.Context, userIDs []string, fn func(ctx context.Context, userID string) error) *BulkResult {
	res := &BulkResult{Errors: make(map[string]error)}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	sem := semaphore.NewWeighted(e.bulkConcurrency)

	// In-flight units must not be torn down mid-mutation by the caller's
	// cancellation; the launch loop is the only cancellation point.
	unitCtx := context.WithoutCancel(ctx)

	for _, userID := range dedupeUsers(userIDs) {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			res.Errors[userID] = err
			res.FailureCount++
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			defer sem.Release(1)

			err := fn(unitCtx, userID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors[userID] = err
				res.FailureCount++
				return
			}
			res.SuccessCount++
		}(userID)
	}

	wg.Wait()
	return res
}

// dedupeUsers preserves first-occurrence order; bulk input is a set.
func dedupeUsers(userIDs []string) []string {
	seen := make(map[string]struct{}, len(userIDs))
	out := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
