package link

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline error for the runner's retry decision.
type Kind int

// Error kinds.
const (
	// KindTransient errors may succeed on retry (timeouts, resets, 5xx, store conflicts).
	KindTransient Kind = iota
	// KindFatal errors cannot be fixed by retrying (bad URL, host not allowed).
	KindFatal
	// KindPartial errors affect a single candidate and never fail a job.
	KindPartial
)

func (k Kind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindPartial:
		return "partial"
	default:
		return "transient"
	}
}

// Error codes.
const (
	CodeInvalidURL       = "INVALID_URL"
	CodeNotFound         = "NOT_FOUND"
	CodeResponseTooLarge = "RESPONSE_TOO_LARGE"
	CodeUnsupported      = "UNSUPPORTED_SOURCE"
	CodeTimeout          = "TIMEOUT"
	CodeNetwork          = "NETWORK"
	CodeHTTPStatus       = "HTTP_STATUS"
	CodeCandidate        = "CANDIDATE"
)

// Error is a tagged pipeline error.
type Error struct {
	Err  error
	Code string
	Op   string
	Kind Kind
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal returns a non-retryable error.
func Fatal(op, code string, err error) *Error {
	return &Error{Kind: KindFatal, Op: op, Code: code, Err: err}
}

// Transient returns a retryable error.
func Transient(op, code string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Code: code, Err: err}
}

// Partial returns a per-candidate error.
func Partial(op string, err error) *Error {
	return &Error{Kind: KindPartial, Op: op, Code: CodeCandidate, Err: err}
}

// InvalidURL is shorthand for a fatal INVALID_URL error.
func InvalidURL(op, rawURL string, reason error) *Error {
	return Fatal(op, CodeInvalidURL, fmt.Errorf("%q: %w", rawURL, reason))
}

// KindOf classifies err. Untagged errors are transient; MaxAttempts bounds them.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// CodeOf returns the code of a tagged error, or "" for untagged errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool { return KindOf(err) == KindFatal }
