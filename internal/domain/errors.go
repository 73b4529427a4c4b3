package domain

import (
	"errors"
	"fmt"
)

// Kind classifies errors that callers are expected to handle.
type Kind string

const (
	KindConflict Kind = "conflict"
	KindNotFound Kind = "not_found"
	KindInput    Kind = "input"
)

// Error is a classified error. Compare with errors.Is against ErrConflict,
// ErrNotFound or ErrInput.
type Error struct {
	Kind    Kind
	Message string
}

var (
	ErrConflict = &Error{Kind: KindConflict}
	ErrNotFound = &Error{Kind: KindNotFound}
	ErrInput    = &Error{Kind: KindInput}
)

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is matches any error of the same kind when target is one of the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" {
		return t.Kind == e.Kind
	}
	return t == e
}

func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Inputf(format string, args ...any) error {
	return &Error{Kind: KindInput, Message: fmt.Sprintf(format, args...)}
}

// ErrorName is the name reported in a failed job's error body.
func ErrorName(err error) string {
	var classified *Error
	if !errors.As(err, &classified) {
		return "Error"
	}
	switch classified.Kind {
	case KindConflict:
		return "ConflictError"
	case KindNotFound:
		return "NotFoundError"
	case KindInput:
		return "InputError"
	default:
		return "Error"
	}
}
