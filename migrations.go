package grantkit

import (
	"github.com/fernandezvara/dbkit"
)

// Migrations returns all database migrations required for GrantKit.
// Use dbkit's db.Migrate(ctx, grantkit.Migrations()) to run them.
func Migrations() []dbkit.Migration {
	return []dbkit.Migration{
		{
			ID:          "grantkit-001",
			Description: "Create role_grants table",
			SQL: `
                CREATE TABLE IF NOT EXISTS role_grants (
                    id UUID PRIMARY KEY,
                    user_id TEXT NOT NULL,
                    role TEXT NOT NULL,
                    is_temporary BOOLEAN NOT NULL DEFAULT false,
                    expires_at TIMESTAMPTZ,
                    reminder_3day_sent BOOLEAN NOT NULL DEFAULT false,
                    reminder_1day_sent BOOLEAN NOT NULL DEFAULT false,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    CONSTRAINT role_grants_user_role_key UNIQUE (user_id, role),
                    CONSTRAINT role_grants_expiry_check CHECK (
                        (is_temporary AND expires_at IS NOT NULL) OR
                        (NOT is_temporary AND expires_at IS NULL)
                    )
                )`,
		},
		{
			ID:          "grantkit-002",
			Description: "Index temporary grants by expiration for the sweep scan",
			SQL: `
                CREATE INDEX IF NOT EXISTS role_grants_expiring_idx
                    ON role_grants (expires_at, id)
                    WHERE is_temporary`,
		},
		{
			ID:          "grantkit-003",
			Description: "Create role_audit_log table",
			SQL: `
                CREATE TABLE IF NOT EXISTS role_audit_log (
                    id UUID PRIMARY KEY,
                    timestamp TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    user_id TEXT NOT NULL,
                    role TEXT NOT NULL,
                    action TEXT NOT NULL,
                    old_value TEXT,
                    new_value TEXT,
                    performed_by TEXT NOT NULL,
                    ip_address TEXT,
                    user_agent TEXT,
                    request_id TEXT
                )`,
		},
	}
}
