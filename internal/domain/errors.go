package domain

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindUnauthenticated
	KindPermissionDenied
	KindInvalidArgument
	KindNotFound
	KindFailedPrecondition
	KindPaymentGateway
	// KindConflict marks a lost compare-and-swap race. Benign for the
	// scheduler, which treats the existing result as the outcome.
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindPermissionDenied:
		return "permission_denied"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindFailedPrecondition:
		return "failed_precondition"
	case KindPaymentGateway:
		return "payment_gateway_error"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func E(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the error kind, or KindUnknown for untyped errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
