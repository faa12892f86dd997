package ws

import (
	"errors"
	"fmt"
)

// Kind classifies the failures relay and pool operations return, so callers
// can branch on the class while the message keeps the relay's exact wording.
type Kind int32

// The error kinds.
const (
	KindTransport Kind = iota + 1
	KindTimeout
	KindWriteClosed
	KindNotConnected
	KindCapabilityDenied
	KindAuthRequired
	KindAuthFailed
	KindRejected
	KindSubscriptionIDInUse
	KindFilterMismatch
	KindBanned
	KindTerminated
	KindShutdown
	KindProtocol
	KindBusy
	KindNotFound
	KindInvalidURL
)

var kindNames = map[Kind]string{
	KindTransport:           "transport error",
	KindTimeout:             "timeout",
	KindWriteClosed:         "write closed",
	KindNotConnected:        "not connected",
	KindCapabilityDenied:    "capability denied",
	KindAuthRequired:        "auth required",
	KindAuthFailed:          "auth failed",
	KindRejected:            "rejected",
	KindSubscriptionIDInUse: "subscription id in use",
	KindFilterMismatch:      "filter mismatch",
	KindBanned:              "banned",
	KindTerminated:          "terminated",
	KindShutdown:            "shutdown",
	KindProtocol:            "protocol violation",
	KindBusy:                "busy",
	KindNotFound:            "not found",
	KindInvalidURL:          "invalid url",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int32(k))
}

// Error carries a Kind, the relay it concerns, the relay-supplied reason
// verbatim when one exists, and the wrapped cause. errors.Is matches any
// Error of the same Kind, so the sentinels below select on class alone.
type Error struct {
	Kind   Kind
	URL    string
	Reason string
	Err    error
}

// Sentinels for errors.Is matching by Kind.
var (
	ErrTransport           = &Error{Kind: KindTransport}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrWriteClosed         = &Error{Kind: KindWriteClosed}
	ErrNotConnected        = &Error{Kind: KindNotConnected}
	ErrCapabilityDenied    = &Error{Kind: KindCapabilityDenied}
	ErrAuthRequired        = &Error{Kind: KindAuthRequired}
	ErrAuthFailed          = &Error{Kind: KindAuthFailed}
	ErrRejected            = &Error{Kind: KindRejected}
	ErrSubscriptionIDInUse = &Error{Kind: KindSubscriptionIDInUse}
	ErrFilterMismatch      = &Error{Kind: KindFilterMismatch}
	ErrBanned              = &Error{Kind: KindBanned}
	ErrTerminated          = &Error{Kind: KindTerminated}
	ErrShutdown            = &Error{Kind: KindShutdown}
	ErrProtocol            = &Error{Kind: KindProtocol}
	ErrBusy                = &Error{Kind: KindBusy}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidURL          = &Error{Kind: KindInvalidURL}
)

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.URL != "" {
		s += " {" + e.URL + "}"
	}
	if e.Reason != "" {
		s += ": " + e.Reason
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind regardless of its url,
// reason or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// errOf builds an Error for a relay with a formatted reason.
func errOf(k Kind, url string, format string, params ...any) *Error {
	var reason string
	if format != "" {
		reason = fmt.Sprintf(format, params...)
	}
	return &Error{Kind: k, URL: url, Reason: reason}
}

// errWrap builds an Error around a cause.
func errWrap(k Kind, url string, err error) *Error {
	return &Error{Kind: k, URL: url, Err: err}
}

// reasonOf extracts the relay-supplied reason from err, falling back to the
// whole error text. Output failure maps record this string.
func reasonOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return err.Error()
}
