// Package errors implements the client's error taxonomy. Every failure
// surfaced across pipeline, confmon, dispatch, retry, and httpclient funnels
// through CbError so callers get a stable Code alongside the wrapped cause.
package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Code classifies an error into one of the kinds described in spec.md §7.
// The kind, not the message, is what the retry queue and dispatch logic
// act on.
type Code int

const (
	CodeUnknown Code = iota
	CodeNetwork
	CodeTimeout
	CodeTopology
	CodeAuth
	CodeProtocol
	CodeThrottle
	CodeUsage
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeNetwork:
		return "NETWORK"
	case CodeTimeout:
		return "TIMEOUT"
	case CodeTopology:
		return "TOPOLOGY"
	case CodeAuth:
		return "AUTH"
	case CodeProtocol:
		return "PROTOCOL"
	case CodeThrottle:
		return "THROTTLE"
	case CodeUsage:
		return "USAGE"
	case CodeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Well-known sentinel errors. Code-matching (errors.Is / As) should be
// preferred to string matching by every caller.
var (
	ErrNotMyVbucket      = &CbError{Code: CodeTopology, Op: "dispatch", msg: "not my vbucket"}
	ErrNoMatchingServer  = &CbError{Code: CodeTopology, Op: "dispatch", msg: "no matching server for key"}
	ErrMapChanged        = &CbError{Code: CodeTopology, Op: "dispatch", msg: "vbucket map changed mid-flight"}
	ErrTimeout           = &CbError{Code: CodeTimeout, Op: "op", msg: "operation timed out"}
	ErrConnectFailed     = &CbError{Code: CodeNetwork, Op: "connect", msg: "connect failed"}
	ErrAuthFailed        = &CbError{Code: CodeAuth, Op: "negotiate", msg: "authentication failed"}
	ErrBucketNotFound    = &CbError{Code: CodeAuth, Op: "negotiate", msg: "bucket not found"}
	ErrSASLMechUnavail   = &CbError{Code: CodeAuth, Op: "negotiate", msg: "no usable SASL mechanism"}
	ErrRateLimited       = &CbError{Code: CodeThrottle, Op: "op", msg: "rate limited"}
	ErrQuotaLimited      = &CbError{Code: CodeThrottle, Op: "op", msg: "quota limited"}
	ErrInvalidArg        = &CbError{Code: CodeUsage, Op: "usage", msg: "invalid argument"}
	ErrTooManyRedirects  = &CbError{Code: CodeUsage, Op: "http", msg: "too many redirects"}
	ErrProtocol          = &CbError{Code: CodeProtocol, Op: "wire", msg: "protocol error"}
	ErrDestroying        = &CbError{Code: CodeUsage, Op: "instance", msg: "instance is being destroyed"}
	ErrRequestCanceled   = &CbError{Code: CodeUsage, Op: "http", msg: "request canceled"}
	ErrKeyNotFound       = &CbError{Code: CodeUsage, Op: "kv", msg: "key not found"}
	ErrKeyExists         = &CbError{Code: CodeUsage, Op: "kv", msg: "key already exists / cas mismatch"}
	ErrNotStored         = &CbError{Code: CodeUsage, Op: "kv", msg: "not stored"}
	ErrTooBig            = &CbError{Code: CodeUsage, Op: "kv", msg: "value too large"}
	ErrDeltaBadval       = &CbError{Code: CodeUsage, Op: "kv", msg: "non-numeric value for incr/decr"}
)

// CbError wraps an underlying cause with a taxonomy Code and the operation
// that produced it, following the style of the teacher's APIError/WithCause
// chaining (internal/api/errors, internal/infrastructure/cache).
type CbError struct {
	Code Code
	Op   string
	Err  error
	msg  string
}

func (e *CbError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.text(), e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.text())
}

func (e *CbError) text() string {
	if e.msg != "" {
		return e.msg
	}
	return e.Code.String()
}

func (e *CbError) Unwrap() error { return e.Err }

// Is lets sentinel comparisons key on Code and message text only, ignoring
// Op and the wrapped cause, since two CbErrors wrapping different
// underlying causes still represent "the same kind of failure" for
// retry-policy purposes.
func (e *CbError) Is(target error) bool {
	t, ok := target.(*CbError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.text() == t.text()
}

// New builds a CbError with the given code/op, optionally wrapping cause.
func New(code Code, op, msg string, cause error) *CbError {
	return &CbError{Code: code, Op: op, msg: msg, Err: cause}
}

// Wrap classifies a raw error (typically from net or context) into a
// CbError, following the teacher's classifyError/isTransientNetworkError
// pattern (internal/core/resilience/error_classifier.go).
func Wrap(op string, err error) *CbError {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*CbError); ok {
		return ce
	}
	return New(classify(err), op, "", err)
}

func classify(err error) Code {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CodeNetwork
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeNetwork
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return CodeNetwork
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timed out"):
		return CodeTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return CodeThrottle
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return CodeNetwork
	default:
		return CodeUnknown
	}
}

// Retryable reports whether errors of this code are, in principle, eligible
// for the retry queue. Per-opcode and per-policy gating (spec.md §4.7)
// happens in package retry; this only encodes the taxonomy-level default,
// following the teacher's DefaultErrorChecker/NeverRetryChecker split.
func (e *CbError) Retryable() bool {
	switch e.Code {
	case CodeNetwork, CodeTimeout, CodeTopology:
		return true
	case CodeThrottle:
		// Throttling is surfaced distinctly and not retried automatically
		// per spec.md §7.
		return false
	default:
		return false
	}
}

// CodeOf extracts the Code from err, defaulting to CodeUnknown when err is
// not a *CbError (or nil).
func CodeOf(err error) Code {
	var ce *CbError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeUnknown
}
