// Package errs defines the structured error carried across the billing core.
// Every error exposed to callers has a stable code and a human-readable message.
package errs

import (
	"errors"
	"fmt"
)

// Kind groups codes into the taxonomy used for transport mapping.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindStateConflict Kind = "state_conflict"
	KindInsufficiency Kind = "insufficiency"
	KindExternal      Kind = "external"
	KindForbidden     Kind = "forbidden"
	KindInternal      Kind = "internal"
)

const (
	CodeValidation             = "VALIDATION_ERROR"
	CodeAccountNotFound        = "ACCOUNT_NOT_FOUND"
	CodeInvoiceNotFound        = "INVOICE_NOT_FOUND"
	CodePaymentNotFound        = "PAYMENT_NOT_FOUND"
	CodeCreditNotFound         = "CREDIT_NOT_FOUND"
	CodeRefundNotFound         = "REFUND_NOT_FOUND"
	CodeAccountMismatch        = "ACCOUNT_MISMATCH"
	CodeInvalidInvoiceState    = "INVALID_INVOICE_STATE"
	CodeInvalidPaymentState    = "INVALID_PAYMENT_STATE"
	CodeInvalidRefundState     = "INVALID_REFUND_STATE"
	CodeCreditExpired          = "CREDIT_EXPIRED"
	CodeInsufficientCredit     = "INSUFFICIENT_CREDIT"
	CodeAmountExceedsBalance   = "AMOUNT_EXCEEDS_BALANCE"
	CodeAllocationExceedsPay   = "ALLOCATION_EXCEEDS_PAYMENT"
	CodeRefundExceedsAvailable = "REFUND_EXCEEDS_AVAILABLE"
	CodePaymentFailed          = "PAYMENT_FAILED"
	CodeRefundFailed           = "REFUND_FAILED"
	CodeForbidden              = "FORBIDDEN"
	CodeInvariantViolation     = "INVARIANT_VIOLATION"
	CodeInternal               = "INTERNAL"
)

var kinds = map[string]Kind{
	CodeValidation:             KindValidation,
	CodeAccountNotFound:        KindNotFound,
	CodeInvoiceNotFound:        KindNotFound,
	CodePaymentNotFound:        KindNotFound,
	CodeCreditNotFound:         KindNotFound,
	CodeRefundNotFound:         KindNotFound,
	CodeAccountMismatch:        KindValidation,
	CodeInvalidInvoiceState:    KindStateConflict,
	CodeInvalidPaymentState:    KindStateConflict,
	CodeInvalidRefundState:     KindStateConflict,
	CodeCreditExpired:          KindStateConflict,
	CodeInsufficientCredit:     KindInsufficiency,
	CodeAmountExceedsBalance:   KindInsufficiency,
	CodeAllocationExceedsPay:   KindInsufficiency,
	CodeRefundExceedsAvailable: KindInsufficiency,
	CodePaymentFailed:          KindExternal,
	CodeRefundFailed:           KindExternal,
	CodeForbidden:              KindForbidden,
	CodeInvariantViolation:     KindInternal,
	CodeInternal:               KindInternal,
}

// Error is a coded billing error. Two errors match under errors.Is when
// their codes are equal, so sentinels can be compared against detailed
// instances produced with Newf.
type Error struct {
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Kind reports the taxonomy group of the error code.
func (e *Error) Kind() Kind {
	if k, ok := kinds[e.Code]; ok {
		return k
	}
	return KindInternal
}

// New returns an error with a fixed message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf returns an error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a coded error. The cause is kept for logs and
// never rendered to callers.
func Wrap(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// From extracts the coded error from err, falling back to INTERNAL.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(CodeInternal, "internal error", err)
}

// CodeOf returns the code of err, or INTERNAL for uncoded errors.
func CodeOf(err error) string {
	if e := From(err); e != nil {
		return e.Code
	}
	return ""
}
