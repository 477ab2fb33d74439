package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every fallible outcome the orchestrator can
// return, so a caller can decide whether to retry, re-authenticate, or
// surface a diagnostic without inspecting error strings.
type ErrorKind uint8

const (
	// KindInvalidInput: bad arguments, empty group-id, overlong
	// strings, bad message-id hex. No state mutated.
	KindInvalidInput ErrorKind = iota + 1
	// KindNotAuthenticated: no live session; the call never touched
	// the network.
	KindNotAuthenticated
	// KindTransport: DNS, connect, send, recv, timeout. The persistent
	// stream has been discarded; the caller may retry.
	KindTransport
	// KindProtocolInvalid: framing, length, or tag mismatch. The
	// stream has been discarded on the assumption of corruption or
	// attack.
	KindProtocolInvalid
	// KindAuthFailure: AEAD MAC mismatch anywhere. The failing
	// frame/message was silently dropped; counters did not advance.
	KindAuthFailure
	// KindTrustViolation: pinned-fingerprint mismatch, KT proof
	// failure, gossip mismatch past threshold, untrusted peer. Latched
	// until operator action for KT.
	KindTrustViolation
	// KindCryptoPolicy: key-too-large, bad Argon2 params, unsupported
	// scheme. Fatal; the session is aborted.
	KindCryptoPolicy
	// KindResource: file not found for upload, file too large, bad
	// file blob header, lock held by another instance.
	KindResource
	// KindServer: the server returned a typed error payload, forwarded
	// verbatim.
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotAuthenticated:
		return "not_authenticated"
	case KindTransport:
		return "transport"
	case KindProtocolInvalid:
		return "protocol_invalid"
	case KindAuthFailure:
		return "auth_failure"
	case KindTrustViolation:
		return "trust_violation"
	case KindCryptoPolicy:
		return "crypto_policy"
	case KindResource:
		return "resource"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// CoreError is the one error type every orchestrator operation
// returns on failure: a kind a caller can switch on, a short
// diagnostic, and the wrapped cause (if any) for logging.
type CoreError struct {
	Kind       ErrorKind
	Diagnostic string
	Cause      error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Diagnostic, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Diagnostic)
}

func (e *CoreError) Unwrap() error { return e.Cause }

func newErr(kind ErrorKind, diagnostic string, cause error) *CoreError {
	return &CoreError{Kind: kind, Diagnostic: diagnostic, Cause: cause}
}

// ErrNotAuthenticated is returned by any operation requiring a live
// session when none exists.
var ErrNotAuthenticated = newErr(KindNotAuthenticated, "no live session", nil)

// AsCoreError unwraps err to a *CoreError if it is (or wraps) one.
func AsCoreError(err error) (*CoreError, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
