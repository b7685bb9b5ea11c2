package domain

import (
	"errors"
	"fmt"
)

// ErrStaleVersion is returned by Apply when an event carries an order
// snapshot older than the stored version. Callers discard the event; the
// order is left untouched.
var ErrStaleVersion = errors.New("stale order version")

// AuthError indicates invalid, missing, or expired credentials. It is never
// retried; callers surface it directly.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// ValidationError indicates a malformed payload or action. Not retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// IllegalTransitionError indicates a state graph violation. The triggering
// event is marked FAILED without retry; a structurally illegal transition
// will not become legal on retry.
type IllegalTransitionError struct {
	OrderID string
	From    OrderStatus
	Action  ActionType
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition for order %s: action %s not permitted from %s", e.OrderID, e.Action, e.From)
}

// TransientDependencyError wraps network or 5xx failures from the partner
// platform or the store. Retried with backoff.
type TransientDependencyError struct {
	Op  string
	Err error
}

func (e *TransientDependencyError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientDependencyError) Unwrap() error { return e.Err }

// RetryExhaustedError marks an event that failed after the maximum number of
// dispatch attempts. Surfaced for manual intervention.
type RetryExhaustedError struct {
	EventID  string
	Attempts int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted for event %s after %d attempts", e.EventID, e.Attempts)
}

// UnknownEventTypeError marks a webhook whose event_type is outside the
// closed set. Stored as FAILED without retry.
type UnknownEventTypeError struct {
	Type string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown webhook event type %q", e.Type)
}

// TokenExpiredError signals that a subject has no usable refresh token, or
// the partner rejected it, and must re-authenticate. Not retried.
type TokenExpiredError struct {
	Subject string
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("token expired for subject %s: re-authentication required", e.Subject)
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientDependencyError
	return errors.As(err, &te)
}
