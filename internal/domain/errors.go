package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID      = "invalid"      // Invalid input or validation failure
	EUNAUTHORIZED = "unauthorized" // Authentication required
	EFORBIDDEN    = "forbidden"    // Permission denied
	ENOTFOUND     = "not_found"    // Resource not found
	ECONFLICT     = "conflict"     // Resource conflict (e.g., duplicate)
	ERATELIMIT    = "rate_limit"   // Rate or quota limit exceeded
	EINTERNAL     = "internal"     // Internal server error
	EPAYMENT      = "payment"      // Paid entitlement required
	EUNAVAILABLE  = "unavailable"  // Storage collaborator unavailable
)

// Sentinels for the entitlement error taxonomy. Every *Error built by the
// constructors below wraps one of these, so callers can use errors.Is.
var (
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrSubscriptionInactive = errors.New("subscription inactive")
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrResourceLimitReached = errors.New("resource limit reached")
	ErrInvalidReferralCode  = errors.New("invalid referral code")
	ErrSelfReferral         = errors.New("self referral")
	ErrAlreadyRedeemed      = errors.New("already redeemed")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrNotFound             = errors.New("not found")
	ErrCodeTaken            = errors.New("referral code taken")
)

// Detail carries the structured payload of a refusal. Only the fields
// relevant to the error are set.
type Detail struct {
	Limit    Limit        // QuotaExceeded, ResourceLimitReached
	Reason   string       // SubscriptionInactive, InvalidReferralCode
	Resource ResourceKind // ResourceLimitReached
}

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "quota.consume")
	Message string // Human-readable message
	Detail  Detail
	Err     error // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code, op, message string) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		// Internal and storage errors never leak details
		switch e.Code {
		case EINTERNAL:
			return "An internal error occurred. Please try again later."
		case EUNAVAILABLE:
			return "The service is temporarily unavailable. Please try again later."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// ErrorDetail returns the structured detail of the error, if any.
func ErrorDetail(err error) Detail {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return Detail{}
}

// Convenience constructors for common error types

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s %q not found", resource, id),
		Err:     ErrNotFound,
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Forbidden creates a permission error.
func Forbidden(op, message string) *Error {
	return &Error{
		Code:    EFORBIDDEN,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// Unauthenticated creates an authentication error.
func Unauthenticated(op string) *Error {
	return &Error{
		Code:    EUNAUTHORIZED,
		Op:      op,
		Message: "Authentication required",
		Err:     ErrUnauthenticated,
	}
}

// SubscriptionInactive reports that the paid entitlement an operation needs
// is not currently honored. The message never names the stored tier.
func SubscriptionInactive(op, reason string) *Error {
	msg := "An active Pro subscription is required for this feature."
	switch reason {
	case string(ReasonExpired):
		msg = "Your subscription has expired. Renew to restore access to this feature."
	case string(ReasonInactiveStatus):
		msg = "Your subscription is not active. Update your billing details to restore access."
	}
	return &Error{
		Code:    EPAYMENT,
		Op:      op,
		Message: msg,
		Detail:  Detail{Reason: reason},
		Err:     ErrSubscriptionInactive,
	}
}

// QuotaExceeded creates a daily quota error carrying the limit that was hit.
func QuotaExceeded(op string, limit Limit) *Error {
	return &Error{
		Code:    ERATELIMIT,
		Op:      op,
		Message: fmt.Sprintf("Daily query limit reached (%d). Upgrade to Pro for unlimited queries.", limit),
		Detail:  Detail{Limit: limit},
		Err:     ErrQuotaExceeded,
	}
}

// ResourceLimitReached creates an ownership cap error.
func ResourceLimitReached(op string, kind ResourceKind, max Limit) *Error {
	msg := fmt.Sprintf("You have reached the maximum of %d %s on your plan. Upgrade to add more.", max, kind.Label())
	if max == 0 {
		msg = fmt.Sprintf("Your plan does not include %s. Upgrade to unlock this feature.", kind.Label())
	}
	return &Error{
		Code:    EFORBIDDEN,
		Op:      op,
		Message: msg,
		Detail:  Detail{Limit: max, Resource: kind},
		Err:     ErrResourceLimitReached,
	}
}

// InvalidReferralCode creates a referral code validation error.
func InvalidReferralCode(op, reason string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: referralReasonMessage(reason),
		Detail:  Detail{Reason: reason},
		Err:     ErrInvalidReferralCode,
	}
}

// SelfReferral is returned when a user redeems their own code.
func SelfReferral(op string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: "You cannot redeem your own referral code.",
		Err:     ErrSelfReferral,
	}
}

// AlreadyRedeemed is returned when the redeemer has already used a code.
func AlreadyRedeemed(op string) *Error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: "You have already redeemed a referral code.",
		Err:     ErrAlreadyRedeemed,
	}
}

// StorageUnavailable wraps a storage collaborator failure. Callers must
// deny the operation when they see it.
func StorageUnavailable(err error, op string) *Error {
	return &Error{
		Code:    EUNAVAILABLE,
		Op:      op,
		Message: "storage unavailable",
		Err:     fmt.Errorf("%w: %w", ErrStorageUnavailable, err),
	}
}

// ValidationError represents field-level validation errors.
type ValidationError struct {
	Op     string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation failed", e.Op)
}

// NewValidationError creates a new validation error with the first field error.
func NewValidationError(op, field, message string) *ValidationError {
	return &ValidationError{
		Op: op,
		Fields: map[string]string{
			field: message,
		},
	}
}

// AddFieldError adds a field error to an existing validation error.
// If err is not a ValidationError, returns a new one.
func AddFieldError(err error, field, message string) *ValidationError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		ve.Fields[field] = message
		return ve
	}
	return NewValidationError("", field, message)
}
