package grantkit

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// SweepFilter restricts an expiration sweep to a single transition type.
type SweepFilter string

const (
	// SweepAll evaluates every transition. The zero value maps here.
	SweepAll SweepFilter = "all"
	// Sweep3Day only sends three-day reminders.
	Sweep3Day SweepFilter = "3day"
	// Sweep1Day only sends one-day reminders.
	Sweep1Day SweepFilter = "1day"
	// SweepExpired only expires grants.
	SweepExpired SweepFilter = "expired"
)

func (f SweepFilter) validate() error {
	switch f {
	case "", SweepAll, Sweep3Day, Sweep1Day, SweepExpired:
		return nil
	}
	return NewError(ErrInvalidFilter, "unknown sweep filter "+string(f))
}

func (f SweepFilter) wants(other SweepFilter) bool {
	return f == "" || f == SweepAll || f == other
}

// SweepOptions controls a single sweep invocation. The zero value runs a
// full live sweep.
type SweepOptions struct {
	// Filter restricts the sweep to one transition type. Empty means all.
	Filter SweepFilter

	// Preview computes and returns the would-be notifications without
	// sending anything or mutating any state.
	Preview bool
}

// SweepReport aggregates the outcome of one sweep invocation.
type SweepReport struct {
	ThreeDayReminders  int
	OneDayReminders    int
	ExpiredRemoved     int
	ExpirationsBlocked int

	// Planned carries the would-be notifications in preview mode.
	Planned []Event
}

// sweepDecision is the transition chosen for one grant.
type sweepDecision int

const (
	sweepNone sweepDecision = iota
	sweepRemind3Day
	sweepRemind1Day
	sweepExpire
)

// RunExpirationSweep scans temporary grants and applies the per-grant
// state machine: a reminder three days before expiry, another one day
// before, and finally expiry. Every scheduler and manual trigger path
// funnels through here; a preview computes without side effects, a filter
// targets a single transition type.
//
// The sweep is page-bounded and resumable: a crash mid-sweep leaves some
// grants unprocessed and the next invocation picks them up purely from the
// persisted reminder flags. Redundant or overlapping invocations are safe
// because each transition is gated on a persisted flag, and the
// dispatcher's dedup key (grant, type, UTC day) bounds duplicate reminders
// even when two sweeps race in the same window before flags commit.
//
// Expiring the sole remaining admin grant is refused: the grant stays
// active, an expiration_blocked audit record is appended, and a critical
// alert is dispatched, so automation can never violate the last-admin rule.
func (e *Engine) RunExpirationSweep(ctx context.Context, opts SweepOptions) (*SweepReport, error) {
	if err := opts.Filter.validate(); err != nil {
		return nil, err
	}

	now := e.now()
	report := &SweepReport{}

	// The three-day reminder is the earliest transition, so one horizon
	// covers every filter; the expired-only scan can stop at now.
	horizon := now.Add(reminder3DayLead)
	if opts.Filter == SweepExpired {
		horizon = now
	}

	sweepCtx := WithActorID(ctx, SystemActor)

	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		page, err := e.store.ListGrantsExpiringBefore(sweepCtx, horizon, afterID, e.sweepPageSize)
		if err != nil {
			return report, err
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if err := e.sweepGrant(sweepCtx, &page[i], now, opts, report); err != nil {
				return report, err
			}
		}

		e.log.WithFields(logrus.Fields{
			"page_size": len(page),
			"after_id":  afterID,
		}).Debug("expiration sweep page processed")

		afterID = page[len(page)-1].ID
		if len(page) < e.sweepPageSize {
			break
		}
	}

	if !opts.Preview {
		e.metrics.sweepRuns.Inc()
	}
	return report, nil
}

// decide picks the most advanced eligible transition for a grant. When a
// sweep has been skipped long enough that both reminder windows have been
// crossed, the one-day reminder wins and the stale three-day notice is
// dropped by setting both flags.
func decide(g *RoleGrant, now time.Time, filter SweepFilter) sweepDecision {
	switch {
	case g.ExpiredAt(now) && filter.wants(SweepExpired):
		return sweepExpire
	case g.InReminderWindow(now, reminder1DayLead) && !g.Reminder1DaySent && filter.wants(Sweep1Day):
		return sweepRemind1Day
	case g.InReminderWindow(now, reminder3DayLead) && !g.Reminder3DaySent && filter.wants(Sweep3Day):
		return sweepRemind3Day
	}
	return sweepNone
}

func (e *Engine) sweepGrant(ctx context.Context, listed *RoleGrant, now time.Time, opts SweepOptions, report *SweepReport) error {
	if decide(listed, now, opts.Filter) == sweepNone {
		return nil
	}

	if opts.Preview {
		e.previewGrant(ctx, listed, now, opts.Filter, report)
		return nil
	}

	var (
		rec    *AuditRecord
		events []Event
	)
	err := e.store.Mutate(ctx, listed.UserID, listed.Role, func(ctx context.Context, store RoleStore) error {
		rec = nil
		events = nil

		// Re-read inside the atomic unit: a concurrent extend or removal
		// may have changed the grant since it was listed.
		g, err := store.GetGrant(ctx, listed.UserID, listed.Role)
		if err != nil {
			if errors.Is(err, ErrGrantNotFound) {
				return nil
			}
			return err
		}

		switch decide(g, now, opts.Filter) {
		case sweepRemind3Day:
			g.Reminder3DaySent = true
			g.UpdatedAt = now
			if err := store.UpsertGrant(ctx, g); err != nil {
				return err
			}
			report.ThreeDayReminders++
			e.metrics.sweepTransition.WithLabelValues("3day_reminder").Inc()
			events = append(events, e.reminderEvent(g, Notification3DayReminder, now))

		case sweepRemind1Day:
			g.Reminder3DaySent = true
			g.Reminder1DaySent = true
			g.UpdatedAt = now
			if err := store.UpsertGrant(ctx, g); err != nil {
				return err
			}
			report.OneDayReminders++
			e.metrics.sweepTransition.WithLabelValues("1day_reminder").Inc()
			events = append(events, e.reminderEvent(g, Notification1DayReminder, now))

		case sweepExpire:
			if g.Role == RoleAdmin {
				admins, err := store.CountUsersWithRole(ctx, RoleAdmin)
				if err != nil {
					return err
				}
				if admins <= 1 {
					// Deleting would leave zero admins. Keep the grant
					// active and escalate instead.
					report.ExpirationsBlocked++
					e.metrics.sweepTransition.WithLabelValues("expiration_blocked").Inc()
					rec = e.newAuditRecord(ctx, g.UserID, g.Role, AuditActionExpirationBlocked, g.value(), g.value(), now)
					events = append(events, e.reminderEvent(g, NotificationExpirationBlocked, now))
					return nil
				}
			}

			if err := store.DeleteGrant(ctx, g.UserID, g.Role); err != nil {
				return err
			}
			report.ExpiredRemoved++
			e.metrics.sweepTransition.WithLabelValues("expired").Inc()
			rec = e.newAuditRecord(ctx, g.UserID, g.Role, AuditActionExpired, g.value(), "", now)
			events = append(events, e.reminderEvent(g, NotificationExpired, now))
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.appendAudit(ctx, rec)
	correlationID := ""
	if rec != nil {
		correlationID = rec.ID
	}
	for _, ev := range events {
		e.dispatch(ctx, ev, correlationID)
	}
	return nil
}

// previewGrant records the would-be transition without side effects.
func (e *Engine) previewGrant(ctx context.Context, g *RoleGrant, now time.Time, filter SweepFilter, report *SweepReport) {
	switch decide(g, now, filter) {
	case sweepRemind3Day:
		report.ThreeDayReminders++
		report.Planned = append(report.Planned, e.reminderEvent(g, Notification3DayReminder, now))
	case sweepRemind1Day:
		report.OneDayReminders++
		report.Planned = append(report.Planned, e.reminderEvent(g, Notification1DayReminder, now))
	case sweepExpire:
		// Preview does not hold the atomic unit, so the admin count is a
		// best-effort read; a live sweep re-checks it transactionally.
		if g.Role == RoleAdmin {
			if admins, err := e.store.CountUsersWithRole(ctx, RoleAdmin); err == nil && admins <= 1 {
				report.ExpirationsBlocked++
				report.Planned = append(report.Planned, e.reminderEvent(g, NotificationExpirationBlocked, now))
				return
			}
		}
		report.ExpiredRemoved++
		report.Planned = append(report.Planned, e.reminderEvent(g, NotificationExpired, now))
	}
}

// reminderEvent builds a sweep notice with a day-window dedup key.
func (e *Engine) reminderEvent(g *RoleGrant, typ NotificationType, now time.Time) Event {
	var expiresAt *time.Time
	if g.ExpiresAt != nil {
		t := *g.ExpiresAt
		expiresAt = &t
	}
	return Event{
		Type:       typ,
		GrantID:    g.ID,
		UserID:     g.UserID,
		Role:       g.Role,
		ExpiresAt:  expiresAt,
		DedupKey:   windowDedupKey(g.ID, typ, now),
		OccurredAt: now,
	}
}
