package grantkit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Engine coordinates the grant lifecycle: interactive mutations, bulk
// operations, and the expiration sweep. It is safe for concurrent use; the
// store's Mutate contract makes every per-grant mutation a single atomic
// unit, so an interactive extension and a concurrent sweep expiry of the
// same grant cannot interleave into an inconsistent state.
//
// Error Handling:
// Validation and invariant errors surface synchronously to the caller.
// Notification and audit delivery failures are swallowed at the engine
// boundary, logged with a correlation ID, and never affect grant lifecycle
// correctness.
//
// Example error handling:
//
//	_, err := engine.Assign(ctx, userID, grantkit.RoleAdmin, nil)
//	if err != nil {
//	    if errors.Is(err, grantkit.ErrInvalidRole) {
//	        // Bad input, do not retry
//	    }
//	    if errors.Is(err, grantkit.ErrLastAdmin) {
//	        // Deliberate safety refusal, surface to the operator
//	    }
//	}
type Engine struct {
	store    RoleStore
	audit    AuditLog
	notifier NotificationDispatcher

	log             logrus.FieldLogger
	now             func() time.Time
	metrics         *engineMetrics
	bulkConcurrency int64
	sweepPageSize   int
	notifyTimeout   time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger used for swallowed failures and
// sweep progress. Defaults to the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithClock overrides the engine's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithBulkConcurrency bounds the fan-out of bulk operations. Defaults to 8.
func WithBulkConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.bulkConcurrency = int64(n)
		}
	}
}

// WithSweepPageSize bounds the number of grants fetched per sweep page.
// Defaults to 200.
func WithSweepPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sweepPageSize = n
		}
	}
}

// WithNotifyTimeout bounds a single dispatcher call. Defaults to 5s.
func WithNotifyTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.notifyTimeout = d
		}
	}
}

// WithMetricsRegisterer registers the engine's Prometheus collectors.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.metrics.register(reg)
	}
}

// NewEngine creates a new lifecycle engine.
//
// Example:
//
//	store := grantkit.NewSQLStore(db)
//	audit := grantkit.NewSQLAuditLog(db)
//	engine := grantkit.NewEngine(store, audit, dispatcher,
//	    grantkit.WithLogger(logger),
//	    grantkit.WithMetricsRegisterer(prometheus.DefaultRegisterer))
func NewEngine(store RoleStore, audit AuditLog, notifier NotificationDispatcher, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		audit:           audit,
		notifier:        notifier,
		log:             logrus.StandardLogger(),
		now:             time.Now,
		metrics:         newEngineMetrics(),
		bulkConcurrency: 8,
		sweepPageSize:   200,
		notifyTimeout:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// newAuditRecord builds a record for one mutation, pulling the actor and
// request metadata from context. Sweep transitions pass SystemActor via
// context so automated changes stay attributable.
func (e *Engine) newAuditRecord(ctx context.Context, userID string, role Role, action, oldValue, newValue string, at time.Time) *AuditRecord {
	meta := GetAuditContext(ctx)
	performedBy := meta.ActorID
	if performedBy == "" {
		performedBy = SystemActor
	}
	return &AuditRecord{
		ID:          newID(),
		Timestamp:   at,
		UserID:      userID,
		Role:        role,
		Action:      action,
		OldValue:    oldValue,
		NewValue:    newValue,
		PerformedBy: performedBy,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
		RequestID:   meta.RequestID,
	}
}

// appendAudit writes the record after the mutation has committed. A failure
// is logged but never rolls back the grant.
func (e *Engine) appendAudit(ctx context.Context, rec *AuditRecord) {
	if rec == nil {
		return
	}
	if err := e.audit.Append(context.WithoutCancel(ctx), rec); err != nil {
		e.metrics.auditFailures.Inc()
		e.log.WithFields(logrus.Fields{
			"audit_id": rec.ID,
			"user_id":  rec.UserID,
			"role":     rec.Role,
			"action":   rec.Action,
		}).WithError(err).Error("audit append failed")
	}
}

// dispatch delivers a notice strictly after the triggering mutation commits.
// Failures are logged with a correlation ID back to the audit record and
// swallowed; lifecycle correctness never depends on delivery.
func (e *Engine) dispatch(ctx context.Context, event Event, correlationID string) {
	event.CorrelationID = correlationID
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
	defer cancel()

	if err := e.notifier.Notify(nctx, event); err != nil {
		e.metrics.notifyFailures.Inc()
		e.log.WithFields(logrus.Fields{
			"correlation_id": correlationID,
			"grant_id":       event.GrantID,
			"user_id":        event.UserID,
			"type":           event.Type,
			"dedup_key":      event.DedupKey,
		}).WithError(err).Warn("notification delivery failed")
	}
}
