package connection

import (
	"errors"
	"fmt"
)

// Kind classifies a connection Error.
type Kind string

const (
	KindConnectFailed Kind = "transport connect failed"
	KindCommandFailed Kind = "command failed"
	KindCancelled     Kind = "cancelled"
)

// Error represents a connect or command failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying transport error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrConnectFailed = &Error{Kind: KindConnectFailed}
	ErrCommandFailed = &Error{Kind: KindCommandFailed}
	ErrCancelled     = &Error{Kind: KindCancelled}
)

// IsKind reports whether err is an Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.Kind == kind
}
