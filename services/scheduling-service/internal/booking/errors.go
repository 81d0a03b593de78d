package booking

import "fmt"

// ValidationError covers malformed or unsatisfiable input. Handlers
// map it to 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError maps to 404.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

// ConflictError covers state conflicts: overlapping intervals,
// duplicate bookings, transitions from the wrong status. Handlers map
// it to 409.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func Conflictf(format string, args ...any) *ConflictError {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// GatewayError wraps a payment provider failure. The transition that
// hit it is rolled back; callers may retry. Handlers map it to 502.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string { return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err) }

func (e *GatewayError) Unwrap() error { return e.Err }

// AuthorizationError is returned when the actor's capability does not
// cover the attempted operation. Handlers map it to 403.
type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string { return e.Msg }

func Forbiddenf(format string, args ...any) *AuthorizationError {
	return &AuthorizationError{Msg: fmt.Sprintf(format, args...)}
}
