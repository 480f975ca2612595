package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures so transports can map them without
// inspecting messages.
type Kind string

const (
	KindNotFound               Kind = "NotFound"
	KindInvalidTransition      Kind = "InvalidTransition"
	KindConstraintViolation    Kind = "ConstraintViolation"
	KindConcurrentModification Kind = "ConcurrentModification"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrInvalidTransition      = &Error{Kind: KindInvalidTransition}
	ErrConstraintViolation    = &Error{Kind: KindConstraintViolation}
	ErrConcurrentModification = &Error{Kind: KindConcurrentModification}
)

type Error struct {
	Kind    Kind
	Op      string
	IssueID string
	Msg     string
	Err     error
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
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.IssueID == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, op, issueID, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, IssueID: issueID, Msg: fmt.Sprintf(format, args...)}
}
