// Package errors provides the marketplace error taxonomy with RFC 7807
// Problem Details rendering.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Error is the typed domain error every rejected operation returns. Kind is
// stable so callers can branch on it.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`

	cause error
}

var _ error = (*Error)(nil)

// Error kinds. Each maps to a distinct problem type and HTTP status.
const (
	KindValidation       = "ValidationError"
	KindNotFound         = "NotFound"
	KindInactive         = "Inactive"
	KindSelfPurchase     = "SelfPurchase"
	KindAlreadyPurchased = "AlreadyPurchased"
	KindPaymentMismatch  = "PaymentMismatch"
	KindTransferFailed   = "TransferFailed"
	KindNotOwner         = "NotOwner"
	KindNotAdmin         = "NotAdmin"
	KindFeeOutOfRange    = "FeeOutOfRange"
	KindUnauthorized     = "Unauthorized"
	KindConflict         = "Conflict"
	KindInternal         = "Internal"
)

// Sentinels for errors.Is checks.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInactive         = &Error{Kind: KindInactive}
	ErrSelfPurchase     = &Error{Kind: KindSelfPurchase}
	ErrAlreadyPurchased = &Error{Kind: KindAlreadyPurchased}
	ErrPaymentMismatch  = &Error{Kind: KindPaymentMismatch}
	ErrTransferFailed   = &Error{Kind: KindTransferFailed}
	ErrNotOwner         = &Error{Kind: KindNotOwner}
	ErrNotAdmin         = &Error{Kind: KindNotAdmin}
	ErrFeeOutOfRange    = &Error{Kind: KindFeeOutOfRange}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrConflict         = &Error{Kind: KindConflict}
)

// New creates an error of the given kind.
func New(kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind caused by err.
func Wrap(kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// Error implements error.
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s]", e.Kind)
	if e.Message != "" {
		str += " " + e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	return str
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches by kind so sentinel comparisons work through wrapping.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// KindOf returns the domain kind of err, or KindInternal for foreign errors.
func KindOf(err error) string {
	var de *Error
	if As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to the HTTP status its problem response
// carries.
func HTTPStatus(kind string) int {
	switch kind {
	case KindValidation, KindFeeOutOfRange:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindTransferFailed:
		return http.StatusPaymentRequired
	case KindNotOwner, KindNotAdmin, KindSelfPurchase:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyPurchased, KindConflict:
		return http.StatusConflict
	case KindInactive:
		return http.StatusGone
	case KindPaymentMismatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
