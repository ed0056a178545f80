package grantkit

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType identifies the lifecycle notice being delivered.
type NotificationType string

const (
	NotificationAssigned          NotificationType = "assigned"
	NotificationRemoved           NotificationType = "removed"
	NotificationExtended          NotificationType = "extended"
	Notification3DayReminder      NotificationType = "3day_reminder"
	Notification1DayReminder      NotificationType = "1day_reminder"
	NotificationExpired           NotificationType = "expired"
	NotificationExpirationBlocked NotificationType = "expiration_blocked"
)

// Critical reports whether the notice should be escalated rather than
// delivered as a routine user notice. Only the blocked expiration of a sole
// remaining admin grant is critical.
func (t NotificationType) Critical() bool {
	return t == NotificationExpirationBlocked
}

// Event is a lifecycle notice handed to the NotificationDispatcher.
type Event struct {
	Type    NotificationType
	GrantID string
	UserID  string
	Role    Role

	// ExpiresAt is set for reminder and expiration notices.
	ExpiresAt *time.Time

	// DedupKey identifies the delivery window. Sweep-driven notices share
	// the key across redundant runs in the same UTC day so a dispatcher can
	// drop duplicates; interactive notices get a unique key per mutation.
	DedupKey string

	// CorrelationID ties the event back to the audit record of the
	// triggering mutation.
	CorrelationID string

	OccurredAt time.Time
}

// windowDedupKey builds the (grant, type, UTC day) key for sweep notices.
func windowDedupKey(grantID string, typ NotificationType, at time.Time) string {
	return grantID + ":" + string(typ) + ":" + at.UTC().Format("2006-01-02")
}

// oneShotDedupKey builds a unique key for interactive mutation notices.
func oneShotDedupKey(grantID string, typ NotificationType) string {
	return grantID + ":" + string(typ) + ":" + uuid.NewString()
}

// newID mints grant and audit record identifiers client-side so memory and
// SQL stores behave identically.
func newID() string {
	return uuid.NewString()
}
