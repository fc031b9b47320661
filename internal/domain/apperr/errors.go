// Package apperr is the error taxonomy shared by the billing core.
//
// Every error that crosses a component boundary is an *Error carrying a Kind.
// Handlers map the kind to a status code; the settlement path maps it to a
// provider acknowledgment.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation      Kind = "validation"
	KindBusinessLogic   Kind = "business_logic"
	KindNotFound        Kind = "not_found"
	KindVerification    Kind = "verification_failure"
	KindAmountMismatch  Kind = "amount_mismatch"
	KindExternalService Kind = "external_service"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so wrapped copies of a sentinel still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Kind == e.Kind
}

// Wrap returns a copy of e with cause attached.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: cause}
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...), Err: e.Err}
}

func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Business(code, format string, args ...any) *Error {
	return &Error{Kind: KindBusinessLogic, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(code, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Verification(format string, args ...any) *Error {
	return &Error{Kind: KindVerification, Code: "verification_failure", Message: fmt.Sprintf(format, args...)}
}

func External(service string, cause error) *Error {
	return &Error{Kind: KindExternalService, Code: "external_service_error", Message: service + " unavailable", Err: cause}
}

// Shared sentinels. Compare with errors.Is.
var (
	ErrInvalidStateTransition = &Error{Kind: KindBusinessLogic, Code: "invalid_state_transition", Message: "status transition not allowed"}
	ErrDuplicatePendingOrder  = &Error{Kind: KindBusinessLogic, Code: "duplicate_pending_order", Message: "user already has a pending order"}
	ErrOrderNotPayable        = &Error{Kind: KindBusinessLogic, Code: "order_not_payable", Message: "order is not pending or has expired"}
	ErrPaymentNotRefundable   = &Error{Kind: KindBusinessLogic, Code: "payment_not_refundable", Message: "payment is not completed"}
	ErrOrderNotFound          = &Error{Kind: KindNotFound, Code: "order_not_found", Message: "order not found"}
	ErrPaymentNotFound        = &Error{Kind: KindNotFound, Code: "payment_not_found", Message: "payment not found"}
	ErrAmountMismatch         = &Error{Kind: KindAmountMismatch, Code: "amount_mismatch", Message: "settled amount does not match payment"}
)

// KindOf reports the Kind of err, or "" when err is not from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, k Kind) bool { return KindOf(err) == k }
