package credit

import (
	"errors"
	"fmt"
)

// Kind lets callers branch on a failure class without matching messages.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindNotFound
	KindInsufficientCredits
	KindAlreadyProcessed
	KindVerificationFailed
	KindConflict
	KindNotEligible
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindInsufficientCredits:
		return "insufficient_credits"
	case KindAlreadyProcessed:
		return "already_processed"
	case KindVerificationFailed:
		return "verification_failed"
	case KindConflict:
		return "conflict"
	case KindNotEligible:
		return "not_eligible"
	default:
		return "internal"
	}
}

// Error is a credit failure carrying its Kind.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

var (
	ErrInvalidAmount            = newError(KindInvalidInput, "invalid amount: must be greater than 0")
	ErrInvalidUserID            = newError(KindInvalidInput, "invalid user id")
	ErrMissingField             = newError(KindInvalidInput, "required field is missing")
	ErrInvalidTransactionType   = newError(KindInvalidInput, "invalid transaction type")
	ErrInvalidPlatform          = newError(KindInvalidInput, "invalid platform")
	ErrInvalidReferralType      = newError(KindInvalidInput, "invalid referral type")
	ErrInvalidDateRange         = newError(KindInvalidInput, "invalid date range")
	ErrSelfReferral             = newError(KindInvalidInput, "cannot refer yourself")
	ErrProductNotFound          = newError(KindNotFound, "product not found")
	ErrTransactionNotFound      = newError(KindNotFound, "transaction not found")
	ErrReceiptNotArchived       = newError(KindNotFound, "receipt not archived")
	ErrInsufficientCredits      = newError(KindInsufficientCredits, "insufficient credits")
	ErrPurchaseAlreadyProcessed = newError(KindAlreadyProcessed, "purchase already processed")
	ErrAlreadyReferred          = newError(KindAlreadyProcessed, "user has already been referred")
	ErrTransactionNotRefundable = newError(KindConflict, "transaction cannot be refunded")
	ErrVerificationFailed       = newError(KindVerificationFailed, "purchase verification failed")
	ErrInvalidReferralCode      = newError(KindInvalidInput, "invalid referral code")
	ErrBonusNotAvailable        = newError(KindNotEligible, "daily bonus not available yet")

	// ErrInternal wraps storage failures; the cause is logged, never returned to clients.
	ErrInternal = newError(KindInternal, "internal error")
)

// KindOf returns the Kind of the first credit Error in err's chain, or
// KindInternal for anything else.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// wrapInternal tags a storage failure as ErrInternal while keeping the cause
// available to errors.Is for logging.
func wrapInternal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}
