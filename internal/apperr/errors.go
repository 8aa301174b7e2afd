package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures surfaced by the messaging core.
type Kind string

const (
	KindUnauthenticated      Kind = "unauthenticated"
	KindPersistence          Kind = "persistence_error"
	KindTransportUnavailable Kind = "transport_unavailable"
	KindMalformedRequest     Kind = "malformed_request"
	KindRateLimited          Kind = "rate_limited"
	KindInternal             Kind = "internal"
)

// Sentinels for errors.Is.
var (
	ErrUnauthenticated      = &Error{Kind: KindUnauthenticated}
	ErrPersistence          = &Error{Kind: KindPersistence}
	ErrTransportUnavailable = &Error{Kind: KindTransportUnavailable}
	ErrMalformedRequest     = &Error{Kind: KindMalformedRequest}
	ErrRateLimited          = &Error{Kind: KindRateLimited}
)

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func Unauthenticated(op string, err error) *Error {
	return New(KindUnauthenticated, op, "unauthenticated", err)
}

func Persistence(op string, err error) *Error {
	return New(KindPersistence, op, "message could not be stored", err)
}

func Malformed(op, msg string) *Error {
	return New(KindMalformedRequest, op, msg, nil)
}

func RateLimited(op string) *Error {
	return New(KindRateLimited, op, "too many messages", nil)
}

// KindOf returns the kind of err, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindMalformedRequest:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindPersistence:
		return http.StatusServiceUnavailable
	case KindTransportUnavailable:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is safe to show to clients.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "internal error"
}
