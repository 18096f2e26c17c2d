package services

import (
	"errors"
	"fmt"
)

// Kind classifies a business error for callers that map outcomes to transport codes.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindForbidden            Kind = "forbidden"
	KindConflict             Kind = "conflict"
	KindInvalidInput         Kind = "invalid_input"
	KindInsufficientFunds    Kind = "insufficient_funds"
	KindNotRefundable        Kind = "not_refundable"
	KindProcessorError       Kind = "processor_error"
	KindProcessorUnavailable Kind = "processor_unavailable"
	KindInternal             Kind = "internal"
)

// Error is a typed business outcome. Sentinels below are compared with errors.Is;
// wrap them with fmt.Errorf("%w: ...") to attach context for the user.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrPromptNotFound        = newError(KindNotFound, "prompt_not_found", "prompt not found")
	ErrNotPublished          = newError(KindNotFound, "not_published", "prompt is not published")
	ErrAlreadyPurchased      = newError(KindConflict, "already_purchased", "prompt already purchased")
	ErrSelfPurchaseForbidden = newError(KindForbidden, "self_purchase_forbidden", "cannot purchase your own prompt")
	ErrInsufficientFunds     = newError(KindInsufficientFunds, "insufficient_funds", "insufficient credits")
	ErrUnsupportedProvider   = newError(KindInvalidInput, "unsupported_provider", "unsupported payment provider")
	ErrProcessorUnavailable  = newError(KindProcessorUnavailable, "processor_unavailable", "payment provider is not available")
	ErrProcessor             = newError(KindProcessorError, "processor_error", "payment processor error")
	ErrInternal              = newError(KindInternal, "internal_error", "internal error")

	ErrPurchaseNotFound = newError(KindNotFound, "purchase_not_found", "purchase not found")
	ErrForbidden        = newError(KindForbidden, "forbidden", "not allowed")
	ErrNotRefundable    = newError(KindNotRefundable, "not_refundable", "purchase is not refundable")

	ErrWalletNotFound          = newError(KindNotFound, "wallet_not_found", "wallet not found")
	ErrInsufficientBalance     = newError(KindInsufficientFunds, "insufficient_balance", "insufficient wallet balance")
	ErrBelowMinimumPayout      = newError(KindInvalidInput, "below_minimum_payout", "amount is below the minimum payout")
	ErrFeeExceedsAmount        = newError(KindInvalidInput, "fee_exceeds_amount", "payout fee exceeds amount")
	ErrInvalidBankDetails      = newError(KindInvalidInput, "invalid_bank_details", "bank details are incomplete")
	ErrPayoutInProgress        = newError(KindConflict, "payout_in_progress", "a payout request is already in progress")
	ErrPayoutNotFound          = newError(KindNotFound, "payout_not_found", "payout request not found")
	ErrPayoutNotCancellable    = newError(KindConflict, "payout_not_cancellable", "payout request can no longer be cancelled")
	ErrInvalidPayoutTransition = newError(KindConflict, "invalid_payout_transition", "payout request cannot move to that status")

	ErrInvalidMetric = newError(KindInvalidInput, "invalid_metric", "invalid metric")
	ErrInvalidAmount = newError(KindInvalidInput, "invalid_amount", "invalid amount")
)

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the machine-readable code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal.Code
}

// isBusiness reports whether err is already a typed outcome that must pass through unchanged.
func isBusiness(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

func wrapInternal(err error) error {
	return fmt.Errorf("%w: %v", ErrInternal, err)
}
