// Package proxyerr provides structured, categorized errors for the proxy.
//
// Every failure that can end a session or abort startup is wrapped in an
// Error so that callers can branch on Kind without string matching, while
// still carrying the host/port and underlying cause for logging.
package proxyerr

import (
	"fmt"
)

// Kind categorizes a proxy error.
type Kind string

const (
	// KindClientRead marks a failed or errored read from the client socket.
	KindClientRead Kind = "client_read"
	// KindClientWrite marks a failed write to the client socket.
	KindClientWrite Kind = "client_write"
	// KindBackendConnect marks a failed or timed-out dial to a backend.
	KindBackendConnect Kind = "backend_connect"
	// KindMalformedHead marks an HTTP head that failed to parse.
	KindMalformedHead Kind = "malformed_head"
	// KindTLSHandshake marks a failed TLS handshake on the client leg.
	KindTLSHandshake Kind = "tls_handshake"
	// KindBindFailure marks a failure to bind the listening socket.
	KindBindFailure Kind = "bind_failure"
	// KindCertNotFound marks a missing certificate file in HTTPS mode.
	KindCertNotFound Kind = "cert_not_found"
)

// Error is a structured proxy error carrying its category, the peer address
// involved (if any), and the underlying cause.
type Error struct {
	Kind  Kind
	Op    string
	Addr  string
	Cause error
}

// Error implements the error interface.
// Format: [kind] op addr: cause
func (e *Error) Error() string {
	s := fmt.Sprintf("[%s]", e.Kind)
	if e.Op != "" {
		s += " " + e.Op
	}
	if e.Addr != "" {
		s += " " + e.Addr
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error of the given kind.
func New(kind Kind, op, addr string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Addr: addr, Cause: cause}
}

// ClientRead wraps a client-side read failure.
func ClientRead(addr string, cause error) *Error {
	return New(KindClientRead, "read", addr, cause)
}

// ClientWrite wraps a client-side write failure.
func ClientWrite(addr string, cause error) *Error {
	return New(KindClientWrite, "write", addr, cause)
}

// BackendConnect wraps a backend dial failure or timeout.
func BackendConnect(addr string, cause error) *Error {
	return New(KindBackendConnect, "dial", addr, cause)
}

// MalformedHead wraps an HTTP head parse failure.
func MalformedHead(cause error) *Error {
	return New(KindMalformedHead, "parse", "", cause)
}

// TLSHandshake wraps a failed server-side TLS handshake.
func TLSHandshake(addr string, cause error) *Error {
	return New(KindTLSHandshake, "handshake", addr, cause)
}

// BindFailure wraps a listen/bind failure at startup.
func BindFailure(addr string, cause error) *Error {
	return New(KindBindFailure, "listen", addr, cause)
}

// CertNotFound wraps a missing certificate file in HTTPS mode.
func CertNotFound(path string, cause error) *Error {
	return New(KindCertNotFound, "stat", path, cause)
}
