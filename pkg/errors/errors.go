// Package errors classifies failures of the sync core into kinds that callers can map
// to user-visible messages without inspecting error strings.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind identifies the class of a failure.
type Kind string

const (
	KindUnknown          Kind = "UNKNOWN"
	KindNotAuthenticated Kind = "NOT_AUTHENTICATED"
	KindNotFound         Kind = "NOT_FOUND"
	KindNotAuthorized    Kind = "NOT_AUTHORIZED"
	KindSelfReference    Kind = "SELF_REFERENCE"
	KindDuplicateRequest Kind = "DUPLICATE_REQUEST"
	KindNotFriends       Kind = "NOT_FRIENDS"
	KindEmptyContent     Kind = "EMPTY_CONTENT"
	KindInvalidArgument  Kind = "INVALID_ARGUMENT"
	KindTransient        Kind = "TRANSIENT"
)

// AppError is a classified failure.
type AppError struct {
	Kind    Kind   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is reports a match when target is an *AppError of the same kind, so that
// errors.Is(err, ErrNotFound) holds for every not-found failure.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind.
func New(kind Kind, message string) error {
	return &AppError{Kind: kind, Message: message}
}

// Wrap returns an error of the given kind carrying cause.
func Wrap(kind Kind, message string, cause error) error {
	return &AppError{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the first AppError in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

func NotFound(msg string) error {
	return New(KindNotFound, msg)
}

func NotAuthorized(msg string) error {
	return New(KindNotAuthorized, msg)
}

func InvalidArg(msg string) error {
	return New(KindInvalidArgument, msg)
}

// Transient marks a store or feed connectivity failure. The core never retries it.
func Transient(msg string, cause error) error {
	return Wrap(KindTransient, msg, cause)
}
