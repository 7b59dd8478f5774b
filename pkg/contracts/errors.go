package contracts

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures by how callers are expected to react.
type ErrorKind string

const (
	// KindValidation is malformed input rejected before any state change.
	KindValidation ErrorKind = "VALIDATION"
	// KindAuthorization is a caller acting outside its authority.
	KindAuthorization ErrorKind = "AUTHORIZATION"
	// KindStateConflict is an operation that conflicts with recorded state.
	KindStateConflict ErrorKind = "STATE_CONFLICT"
	// KindCrypto is a signature or hash failure. Never retried.
	KindCrypto ErrorKind = "CRYPTO"
	// KindNotFound is a reference to a record that does not exist.
	KindNotFound ErrorKind = "NOT_FOUND"
)

// Error codes shared across packages.
const (
	CodeAlreadyClaimed      = "ALREADY_CLAIMED"
	CodeMetricOutOfRange    = "METRIC_OUT_OF_RANGE"
	CodeSignatureMismatch   = "SIGNATURE_MISMATCH"
	CodeFieldNotAllowed     = "FIELD_NOT_ALLOWED"
	CodeDurationTooLong     = "DURATION_TOO_LONG"
	CodeNotGrantOwner       = "NOT_GRANT_OWNER"
	CodeAlreadyRevoked      = "ALREADY_REVOKED"
	CodeAccessDenied        = "ACCESS_DENIED"
	CodeAccessExpired       = "ACCESS_EXPIRED"
	CodeAccessRevoked       = "ACCESS_REVOKED"
	CodeFieldNotGranted     = "FIELD_NOT_GRANTED"
	CodeNotCommitmentParty  = "NOT_COMMITMENT_PARTY"
	CodeFulfillmentMismatch = "FULFILLMENT_MISMATCH"
	CodeRuleViolation       = "RULE_VIOLATION"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeNotFound            = "NOT_FOUND"
	CodeNotLedgerOwner      = "NOT_LEDGER_OWNER"
	CodeDuplicate           = "DUPLICATE"
	CodeNotClaimed          = "NOT_CLAIMED"
)

// Error is a classified failure. Err, when set, is the sentinel or cause.
type Error struct {
	Kind ErrorKind
	Code string
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s [%s/%s]", e.Op, msg, e.Kind, e.Code)
	}
	return fmt.Sprintf("%s [%s/%s]", msg, e.Kind, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error wrapping cause.
func NewError(kind ErrorKind, code, op string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Op: op, Err: cause}
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind ErrorKind, code, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// CodeOf returns the code of the first classified error in err's chain.
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
