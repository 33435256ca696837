// Package errs defines the structured error type shared by the governance core.
// Every failure carries a machine-readable code and a category; callers match
// with errors.Is against the package sentinels and add detail with %w.
package errs

import (
	"errors"
	"fmt"
)

// Category groups error codes by the kind of failure.
type Category string

const (
	Validation    Category = "validation"
	Authorization Category = "authorization"
	State         Category = "state"
	Resource      Category = "resource"
	Concurrency   Category = "concurrency"
	Consistency   Category = "consistency"
	NotFound      Category = "not_found"
	Internal      Category = "internal"
)

// Error is a categorized, coded failure.
type Error struct {
	Category Category
	Code     string
	Message  string
}

// New returns a sentinel error.
func New(category Category, code, message string) *Error {
	return &Error{Category: category, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrapf attaches formatted detail to a sentinel while keeping it matchable.
func Wrapf(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// As extracts the structured error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CategoryOf returns the category of err, or Internal for unstructured errors.
func CategoryOf(err error) Category {
	if e, ok := As(err); ok {
		return e.Category
	}
	return Internal
}

// CodeOf returns the code of err, or "internal" for unstructured errors.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return "internal"
}
