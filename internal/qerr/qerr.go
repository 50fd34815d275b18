// Package qerr defines the error categories raised while composing queries.
// Every error produced by the composition packages wraps exactly one of the
// sentinel values below, so callers classify failures with errors.Is.
package qerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a table or column that is not part of the configured catalog.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks a foreign-key path or column that does not exist from a given root.
	ErrNotFound = errors.New("not found")
	// ErrState marks an operation invoked in a state that makes it meaningless.
	ErrState = errors.New("invalid state")
	// ErrUnsupported marks an operation a handle or statement cannot perform.
	ErrUnsupported = errors.New("unsupported operation")
	// ErrAmbiguous marks a lookup that found zero or several targets where one was required.
	ErrAmbiguous = errors.New("ambiguous reference")
)

// Error carries a category, a message and an optional cause.
type Error struct {
	Kind  error
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes both the category and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Configuration builds an ErrConfiguration error.
func Configuration(format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Msg: fmt.Sprintf(format, args...)}
}

// NotFound builds an ErrNotFound error.
func NotFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

// State builds an ErrState error.
func State(format string, args ...any) error {
	return &Error{Kind: ErrState, Msg: fmt.Sprintf(format, args...)}
}

// Unsupported builds an ErrUnsupported error.
func Unsupported(format string, args ...any) error {
	return &Error{Kind: ErrUnsupported, Msg: fmt.Sprintf(format, args...)}
}

// Ambiguous builds an ErrAmbiguous error.
func Ambiguous(format string, args ...any) error {
	return &Error{Kind: ErrAmbiguous, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a category.
func Wrap(kind, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Kind returns the category of err, or nil if err is not classified.
func Kind(err error) error {
	for _, kind := range []error{ErrConfiguration, ErrNotFound, ErrState, ErrUnsupported, ErrAmbiguous} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
