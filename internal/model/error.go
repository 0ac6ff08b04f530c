package model

import (
	stderrors "errors"
)

// ErrKind says why a handshake attempt was rejected. Every kind is terminal
// for the attempt it occurred in.
type ErrKind uint8

const (
	KindUnknown ErrKind = iota
	KindMalformedMessage
	KindUnsupportedVersion
	KindInvalidPublicKey
	KindAuthenticationFailed
	KindProtocolViolation
	KindTransportError
	KindCancelled
	// KindInternal covers local failures such as an exhausted entropy source.
	KindInternal
)

var kindNames = [...]string{
	KindUnknown:              "Unknown",
	KindMalformedMessage:     "MalformedMessage",
	KindUnsupportedVersion:   "UnsupportedVersion",
	KindInvalidPublicKey:     "InvalidPublicKey",
	KindAuthenticationFailed: "AuthenticationFailed",
	KindProtocolViolation:    "ProtocolViolation",
	KindTransportError:       "TransportError",
	KindCancelled:            "Cancelled",
	KindInternal:             "Internal",
}

func (k ErrKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

type Error struct {
	Kind  ErrKind
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Inner != nil {
		msg += ": " + e.Inner.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Inner }

// Is matches any *Error of the same kind, so errors.Is(err, ErrAuthenticationFailed)
// works regardless of message or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrMalformedMessage     = &Error{Kind: KindMalformedMessage}
	ErrUnsupportedVersion   = &Error{Kind: KindUnsupportedVersion}
	ErrInvalidPublicKey     = &Error{Kind: KindInvalidPublicKey}
	ErrAuthenticationFailed = &Error{Kind: KindAuthenticationFailed}
	ErrProtocolViolation    = &Error{Kind: KindProtocolViolation}
	ErrTransport            = &Error{Kind: KindTransportError}
	ErrCancelled            = &Error{Kind: KindCancelled}
)

func NewError(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func WrapError(kind ErrKind, msg string, inner error) *Error {
	return &Error{Kind: kind, Msg: msg, Inner: inner}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) ErrKind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind ErrKind) bool {
	return err != nil && KindOf(err) == kind
}
