package grantkit

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for GrantKit operations.
var (
	// ErrInvalidRole is returned when a role is not one of the fixed set.
	ErrInvalidRole = errors.New("grantkit: invalid role")

	// ErrInvalidUser is returned when a user ID is empty.
	ErrInvalidUser = errors.New("grantkit: invalid user")

	// ErrInvalidExpiration is returned when an expiration timestamp is not
	// strictly in the future, or when an extension does not move the
	// expiration forward.
	ErrInvalidExpiration = errors.New("grantkit: invalid expiration")

	// ErrGrantNotFound is returned when no grant exists for a (user, role)
	// pair. Callers removing a grant may treat it as a safe no-op.
	ErrGrantNotFound = errors.New("grantkit: grant not found")

	// ErrLastAdmin is returned when an operation would leave the system
	// without any admin grant. It is a deliberate safety refusal, never an
	// unexpected failure, and must not be retried.
	ErrLastAdmin = errors.New("grantkit: cannot remove the last admin")

	// ErrNotTemporary is returned when extending a permanent grant.
	ErrNotTemporary = errors.New("grantkit: grant is not temporary")

	// ErrEmptyUserSet is returned when a bulk operation receives no users.
	ErrEmptyUserSet = errors.New("grantkit: empty user set")

	// ErrInvalidFilter is returned for an unknown sweep filter.
	ErrInvalidFilter = errors.New("grantkit: invalid sweep filter")

	// ErrStoreUnavailable is returned when the underlying store fails.
	// The triggering mutation fails atomically with no partial effect.
	ErrStoreUnavailable = errors.New("grantkit: store unavailable")
)

// Error wraps a sentinel error with additional context.
type Error struct {
	Err     error  // Underlying sentinel error
	Message string // Additional context
	UserID  string // User involved (if applicable)
	Role    Role   // Role involved (if applicable)
	ActorID string // Actor who triggered the error (if applicable)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches a target error.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new Error with context.
func NewError(err error, message string) *Error {
	return &Error{
		Err:     err,
		Message: message,
	}
}

// WithUser adds user information to the error.
func (e *Error) WithUser(userID string) *Error {
	e.UserID = userID
	return e
}

// WithRole adds role information to the error.
func (e *Error) WithRole(role Role) *Error {
	e.Role = role
	return e
}

// WithActor adds actor information to the error.
func (e *Error) WithActor(actorID string) *Error {
	e.ActorID = actorID
	return e
}

// WithExpiry appends the offending expiration timestamp to the message.
func (e *Error) WithExpiry(t time.Time) *Error {
	e.Message = fmt.Sprintf("%s (expires %s)", e.Message, t.UTC().Format(time.RFC3339))
	return e
}

// wrapStoreErr classifies an infrastructure failure from the store layer.
func wrapStoreErr(err error, op string) error {
	if err == nil {
		return nil
	}
	return NewError(ErrStoreUnavailable, op+": "+err.Error())
}
