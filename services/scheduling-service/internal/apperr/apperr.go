// Package apperr carries the typed failures the engine reports to callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	Validation          Kind = "validation"
	NotAvailable        Kind = "not_available"
	Conflict            Kind = "conflict"
	NotFound            Kind = "not_found"
	Authorization       Kind = "authorization"
	InvalidState        Kind = "invalid_state"
	InvalidToken        Kind = "invalid_token"
	AlreadyPaid         Kind = "already_paid"
	InstrumentDeclined  Kind = "instrument_declined"
	PaymentWindowClosed Kind = "payment_window_closed"
	Transient           Kind = "transient"
	Internal            Kind = "internal"
)

// Error is safe to show to the caller. Err, when set, is for logs only.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns Internal for errors that are not *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller-facing text of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case NotAvailable:
		return http.StatusUnprocessableEntity
	case Conflict, InvalidState, AlreadyPaid:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case Authorization:
		return http.StatusForbidden
	case InvalidToken, PaymentWindowClosed:
		return http.StatusGone
	case InstrumentDeclined:
		return http.StatusPaymentRequired
	case Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
