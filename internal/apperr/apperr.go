// Package apperr defines the error kinds shared by the ride, user and
// reputation services. The HTTP layer maps kinds to status codes.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidState      Kind = "invalid_state"
	KindForbidden         Kind = "forbidden"
	KindAlreadyMember     Kind = "already_member"
	KindNotMember         Kind = "not_member"
	KindFull              Kind = "full"
	KindCommunityMismatch Kind = "community_mismatch"
	KindConflict          Kind = "conflict"
	KindInvalidInput      Kind = "invalid_input"
	KindUnauthorized      Kind = "unauthorized"
)

// Error is a domain error carrying a Kind. Two errors match under errors.Is
// when the target is a bare sentinel of the same kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrAlreadyMember     = &Error{Kind: KindAlreadyMember}
	ErrNotMember         = &Error{Kind: KindNotMember}
	ErrFull              = &Error{Kind: KindFull}
	ErrCommunityMismatch = &Error{Kind: KindCommunityMismatch}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or "" when
// err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the user-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return err.Error()
}
