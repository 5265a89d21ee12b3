// Package apperrors defines the error taxonomy shared by every tenantry package.
//
// Domain code returns *Error values (or wraps them with %w) and the HTTP layer
// maps the Kind onto a status code and envelope error code. Anything that is
// not an *Error is treated as Internal.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
)

// Kind classifies an error for callers and transports
type Kind string

const (
	KindValidation      Kind = "validation"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindRateLimited     Kind = "rate_limited"
	KindInternal        Kind = "internal"
)

// Error is a classified application error
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind with the same (or empty) message
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// WithDetails returns a copy of the error carrying details
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input
func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

// Unauthenticated reports a bad credential or token. Keep the message generic.
func Unauthenticated(format string, args ...interface{}) *Error {
	return newf(KindUnauthenticated, format, args...)
}

// Forbidden reports an authenticated caller without sufficient rank or permission
func Forbidden(format string, args ...interface{}) *Error {
	return newf(KindForbidden, format, args...)
}

// NotFound reports a missing resource
func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

// Conflict reports a uniqueness violation
func Conflict(format string, args ...interface{}) *Error {
	return newf(KindConflict, format, args...)
}

// RateLimited reports a throttled caller
func RateLimited(format string, args ...interface{}) *Error {
	return newf(KindRateLimited, format, args...)
}

// Internal wraps an unexpected failure
func Internal(err error, format string, args ...interface{}) *Error {
	e := newf(KindInternal, format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsUniqueViolation reports whether err is a postgres unique constraint failure
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgerrcode.UniqueViolation
	}
	return false
}

// FromPQ converts a unique violation into a Conflict with the given message and
// wraps everything else with context.
func FromPQ(err error, conflictMsg, op string) error {
	if err == nil {
		return nil
	}
	if IsUniqueViolation(err) {
		return &Error{Kind: KindConflict, Message: conflictMsg, Err: err}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
