// Package gwerrors defines the gateway's error taxonomy and its mapping to
// HTTP status codes. Verifiers return these errors; only the dispatcher
// translates them into an HTTP response.
package gwerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the category of a gateway error, independent of any
// scheme-specific detail string.
type Kind int

const (
	KindMissingHeaders Kind = iota
	KindInvalidHeaders
	KindSchemeNotAccepted
	KindTimestampError
	KindInvalidSignature
	KindInvalidMessage
	KindInvalidNonce
	KindInvalidChannel
	KindExpired
	KindInsufficientBalance
	KindTransactionNotFound
	KindInvalidTransaction
	KindInvalidStream
	KindInvalidSender
	KindRateLimitExceeded
	KindContractError
	KindNetworkError
	KindInternalError
)

var kindText = map[Kind]string{
	KindMissingHeaders:      "missing headers",
	KindInvalidHeaders:      "invalid headers",
	KindSchemeNotAccepted:   "scheme not accepted",
	KindTimestampError:      "timestamp out of range",
	KindInvalidSignature:    "invalid signature",
	KindInvalidMessage:      "invalid message",
	KindInvalidNonce:        "invalid nonce",
	KindInvalidChannel:      "invalid channel",
	KindExpired:             "expired",
	KindInsufficientBalance: "insufficient balance",
	KindTransactionNotFound: "transaction not found",
	KindInvalidTransaction:  "invalid transaction",
	KindInvalidStream:       "invalid stream",
	KindInvalidSender:       "invalid sender",
	KindRateLimitExceeded:   "rate limit exceeded",
	KindContractError:       "contract error",
	KindNetworkError:        "network error",
	KindInternalError:       "internal error",
}

func (k Kind) String() string {
	if s, ok := kindText[k]; ok {
		return s
	}
	return "unknown error"
}

// StatusCode returns the HTTP status the dispatcher should use for a bare
// Kind. The gateway always answers payment-gate rejections with 402
// regardless of Kind — this mapping exists for callers (e.g. admin tooling)
// that want a finer-grained code.
func (k Kind) StatusCode() int {
	switch k {
	case KindMissingHeaders, KindInvalidHeaders, KindInvalidNonce, KindInvalidChannel,
		KindInvalidMessage, KindInvalidSender:
		return http.StatusBadRequest
	case KindSchemeNotAccepted:
		return http.StatusNotFound
	case KindInvalidSignature:
		return http.StatusUnauthorized
	case KindTimestampError, KindExpired:
		return http.StatusRequestTimeout
	case KindInsufficientBalance, KindTransactionNotFound, KindInvalidTransaction, KindInvalidStream:
		return http.StatusPaymentRequired
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindContractError, KindNetworkError, KindInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is the concrete error type returned by verifiers. Detail is a
// human-readable string safe to surface to the caller; it must never
// contain internal stack traces or raw RPC errors.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// New builds an Error with no extra detail.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Newf builds an Error with a formatted detail string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

var (
	ErrMissingHeaders    = New(KindMissingHeaders)
	ErrSchemeNotAccepted = New(KindSchemeNotAccepted)
	ErrInvalidSignature  = New(KindInvalidSignature)
	ErrInvalidMessage    = New(KindInvalidMessage)
	ErrExpired           = New(KindExpired)
)
