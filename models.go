package grantkit

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Role is one of the fixed three-tier role set.
type Role string

// The complete role set. Custom roles are intentionally unsupported.
const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

// Roles returns all defined roles.
func Roles() []Role {
	return []Role{RoleAdmin, RoleModerator, RoleUser}
}

// Validate checks that the role is one of the fixed set.
func (r Role) Validate() error {
	switch r {
	case RoleAdmin, RoleModerator, RoleUser:
		return nil
	}
	return NewError(ErrInvalidRole, fmt.Sprintf("role %q not defined", string(r))).WithRole(r)
}

// GrantState describes where a grant sits in the expiration lifecycle.
type GrantState string

const (
	// StateActive is a permanent grant with no expiration.
	StateActive GrantState = "active"
	// StateActiveTemporary has an expiration but no reminders sent yet.
	StateActiveTemporary GrantState = "active_temporary"
	// StateReminded3Day has had the three-day reminder sent.
	StateReminded3Day GrantState = "reminded_3day"
	// StateReminded1Day has had the one-day reminder sent.
	StateReminded1Day GrantState = "reminded_1day"
)

// Reminder lead times for temporary grants.
const (
	reminder3DayLead = 72 * time.Hour
	reminder1DayLead = 24 * time.Hour
)

// RoleGrant binds one user to one role, optionally time-bounded.
// Unique per (user_id, role). Reminder flags only move false to true, except
// that an extension resets both: a new expiration implies a new reminder
// schedule.
type RoleGrant struct {
	bun.BaseModel `bun:"table:role_grants,alias:rg"`

	ID               string     `bun:"id,pk,type:uuid"`
	UserID           string     `bun:"user_id,notnull"`
	Role             Role       `bun:"role,notnull"`
	IsTemporary      bool       `bun:"is_temporary,notnull,default:false"`
	ExpiresAt        *time.Time `bun:"expires_at"`
	Reminder3DaySent bool       `bun:"reminder_3day_sent,notnull,default:false"`
	Reminder1DaySent bool       `bun:"reminder_1day_sent,notnull,default:false"`
	CreatedAt        time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt        time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

// State derives the lifecycle state from the persisted reminder flags.
func (g *RoleGrant) State() GrantState {
	switch {
	case !g.IsTemporary:
		return StateActive
	case g.Reminder1DaySent:
		return StateReminded1Day
	case g.Reminder3DaySent:
		return StateReminded3Day
	default:
		return StateActiveTemporary
	}
}

// ExpiredAt reports whether the grant's expiration has been reached at now.
// Always false for permanent grants.
func (g *RoleGrant) ExpiredAt(now time.Time) bool {
	return g.IsTemporary && g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// InReminderWindow reports whether now has crossed the reminder threshold
// the given lead time before expiry.
func (g *RoleGrant) InReminderWindow(now time.Time, lead time.Duration) bool {
	return g.IsTemporary && g.ExpiresAt != nil && !now.Before(g.ExpiresAt.Add(-lead))
}

// Clone returns a deep copy of the grant.
func (g *RoleGrant) Clone() *RoleGrant {
	c := *g
	if g.ExpiresAt != nil {
		t := *g.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// value renders the grant for audit old/new columns.
func (g *RoleGrant) value() string {
	if g == nil {
		return ""
	}
	if !g.IsTemporary || g.ExpiresAt == nil {
		return "permanent"
	}
	return "temporary until " + g.ExpiresAt.UTC().Format(time.RFC3339)
}

// Audit actions recorded for lifecycle mutations.
const (
	AuditActionAssigned          = "assigned"
	AuditActionRemoved           = "removed"
	AuditActionExtended          = "extended"
	AuditActionExpired           = "expired"
	AuditActionExpirationBlocked = "expiration_blocked"
)

// AuditRecord documents one lifecycle mutation. Append-only; records are
// never edited or deleted.
type AuditRecord struct {
	bun.BaseModel `bun:"table:role_audit_log,alias:ral"`

	ID        string    `bun:"id,pk,type:uuid"`
	Timestamp time.Time `bun:"timestamp,notnull,default:current_timestamp"`

	// Target of the action
	UserID string `bun:"user_id,notnull"`
	Role   Role   `bun:"role,notnull"`

	// What happened
	Action   string `bun:"action,notnull"`
	OldValue string `bun:"old_value"`
	NewValue string `bun:"new_value"`

	// Who performed the action ("system" for sweep-driven transitions)
	PerformedBy string `bun:"performed_by,notnull"`

	// Request metadata for forensics
	IPAddress string `bun:"ip_address"`
	UserAgent string `bun:"user_agent"`
	RequestID string `bun:"request_id"`
}

// BulkResult aggregates per-user outcomes of a bulk operation.
// A per-user failure never aborts the rest of the batch.
type BulkResult struct {
	SuccessCount int
	FailureCount int

	// Errors maps failed user IDs to their individual error.
	Errors map[string]error
}
