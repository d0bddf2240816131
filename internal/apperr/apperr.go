// Package apperr defines the coded errors returned by the fulfillment core.
//
// Every error that reaches a caller carries a stable Code (what went wrong)
// and a Kind (how the caller should react: fix the input, give up, retry).
package apperr

import (
	"errors"
	"fmt"
	"time"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindBusiness
	KindContention
	KindExternal
	KindIntegrity
	KindNotFound
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBusiness:
		return "business"
	case KindContention:
		return "contention"
	case KindExternal:
		return "external"
	case KindIntegrity:
		return "integrity"
	case KindNotFound:
		return "not_found"
	case KindAuth:
		return "auth"
	default:
		return "internal"
	}
}

type Code string

const (
	CodeValidation            Code = "VALIDATION_ERROR"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeForbidden             Code = "FORBIDDEN"
	CodeTooManyRequests       Code = "TOO_MANY_REQUESTS"
	CodeCartEmpty             Code = "CART_EMPTY"
	CodeNoMarketConfig        Code = "NO_MARKET_CONFIG"
	CodeMissingProfileInfo    Code = "MISSING_PROFILE_INFO"
	CodeCutoffPassed          Code = "CUTOFF_PASSED"
	CodeInvalidDeliveryDate   Code = "INVALID_DELIVERY_DATE"
	CodeBelowMinimumOrder     Code = "BELOW_MINIMUM_ORDER"
	CodeInsufficientInventory Code = "INSUFFICIENT_INVENTORY"
	CodeInsufficientCredits   Code = "INSUFFICIENT_CREDITS"
	CodeProductUnavailable    Code = "PRODUCT_UNAVAILABLE"
	CodeCheckoutInProgress    Code = "CHECKOUT_IN_PROGRESS"
	CodePaymentUnavailable    Code = "PAYMENT_UNAVAILABLE"
	CodeOrderNotFound         Code = "ORDER_NOT_FOUND"
	CodeOrderNotReady         Code = "ORDER_NOT_READY"
	CodeInvalidStatus         Code = "INVALID_STATUS"
	CodeTooLateToCancel       Code = "TOO_LATE_TO_CANCEL"
	CodeNotFound              Code = "NOT_FOUND"
	CodeOutOfSequence         Code = "OUT_OF_SEQUENCE"
	CodeNotPickedUp           Code = "NOT_PICKED_UP"
	CodeInvalidSignature      Code = "INVALID_SIGNATURE"
	CodeJobRunning            Code = "JOB_ALREADY_RUNNING"
	CodeIntegrity             Code = "INTEGRITY_VIOLATION"
	CodeInternal              Code = "INTERNAL"
)

// Error is the concrete error type. Compare with errors.Is against a
// sentinel of the same Code, or unwrap with errors.As.
type Error struct {
	Code       Code
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Retryable reports whether the caller may retry the same request unchanged.
func (e *Error) Retryable() bool {
	return e.Kind == KindContention || e.Kind == KindExternal
}

func New(code Code, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, Message: msg}
}

func Wrap(code Code, kind Kind, msg string, err error) *Error {
	return &Error{Code: code, Kind: kind, Message: msg, Err: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation            = New(CodeValidation, KindValidation, "invalid input")
	ErrUnauthorized          = New(CodeUnauthorized, KindAuth, "unauthorized")
	ErrForbidden             = New(CodeForbidden, KindAuth, "forbidden")
	ErrTooManyRequests       = New(CodeTooManyRequests, KindContention, "too many requests")
	ErrCartEmpty             = New(CodeCartEmpty, KindBusiness, "cart is empty")
	ErrNoMarketConfig        = New(CodeNoMarketConfig, KindBusiness, "no market configured for buyer region")
	ErrMissingProfileInfo    = New(CodeMissingProfileInfo, KindBusiness, "buyer delivery address is incomplete")
	ErrCutoffPassed          = New(CodeCutoffPassed, KindBusiness, "order cutoff for delivery date has passed")
	ErrInvalidDeliveryDate   = New(CodeInvalidDeliveryDate, KindBusiness, "delivery date is not available")
	ErrBelowMinimumOrder     = New(CodeBelowMinimumOrder, KindBusiness, "subtotal below market minimum")
	ErrInsufficientInventory = New(CodeInsufficientInventory, KindContention, "insufficient inventory")
	ErrInsufficientCredits   = New(CodeInsufficientCredits, KindBusiness, "insufficient credits")
	ErrProductUnavailable    = New(CodeProductUnavailable, KindBusiness, "product unavailable")
	ErrCheckoutInProgress    = New(CodeCheckoutInProgress, KindContention, "checkout already in progress")
	ErrPaymentUnavailable    = New(CodePaymentUnavailable, KindExternal, "payment provider unavailable")
	ErrOrderNotFound         = New(CodeOrderNotFound, KindNotFound, "order not found")
	ErrOrderNotReady         = New(CodeOrderNotReady, KindContention, "order not recorded yet")
	ErrInvalidStatus         = New(CodeInvalidStatus, KindBusiness, "invalid status for operation")
	ErrTooLateToCancel       = New(CodeTooLateToCancel, KindBusiness, "too late to cancel")
	ErrNotFound              = New(CodeNotFound, KindNotFound, "not found")
	ErrOutOfSequence         = New(CodeOutOfSequence, KindBusiness, "stop delivered out of sequence")
	ErrNotPickedUp           = New(CodeNotPickedUp, KindBusiness, "order has not been picked up")
	ErrInvalidSignature      = New(CodeInvalidSignature, KindAuth, "invalid webhook signature")
	ErrJobRunning            = New(CodeJobRunning, KindContention, "job already running")
	ErrIntegrity             = New(CodeIntegrity, KindIntegrity, "integrity violation")
)

// Validation builds a validation error naming the offending field.
func Validation(field, msg string) *Error {
	return &Error{Code: CodeValidation, Kind: KindValidation, Message: field + ": " + msg}
}

// WithMessage copies a sentinel with a more specific message.
func WithMessage(base *Error, msg string) *Error {
	cp := *base
	cp.Message = msg
	return &cp
}

func TooManyRequests(retryAfter time.Duration) *Error {
	cp := *ErrTooManyRequests
	cp.RetryAfter = retryAfter
	return &cp
}

func Integrity(msg string) *Error {
	return WithMessage(ErrIntegrity, msg)
}

// From extracts an *Error, classifying anything else as internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(CodeInternal, KindInternal, "internal error", err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return From(err).Code
}
