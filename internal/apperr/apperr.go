// Package apperr defines the error kinds shared by the draft, remote store,
// publish and box packages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an Error.
type Code string

const (
	CodeNotAuthorized        Code = "not_authorized"
	CodeNotFound             Code = "not_found"
	CodeRemoteStore          Code = "remote_store_failure"
	CodeLocalStoreCorruption Code = "local_store_corruption"
	CodeTimeout              Code = "timeout"
	CodeInvalidArgument      Code = "invalid_argument"
	CodeConflict             Code = "conflict"
)

// Error is a classified error. Remote failures carry the HTTP status of the
// response that caused them.
type Error struct {
	Code       Code
	Message    string
	Method     string
	URL        string
	Status     int
	StatusText string
	Err        error
}

var (
	ErrNotAuthorized        = &Error{Code: CodeNotAuthorized}
	ErrNotFound             = &Error{Code: CodeNotFound}
	ErrRemoteStore          = &Error{Code: CodeRemoteStore}
	ErrLocalStoreCorruption = &Error{Code: CodeLocalStoreCorruption}
	ErrTimeout              = &Error{Code: CodeTimeout}
	ErrInvalidArgument      = &Error{Code: CodeInvalidArgument}
	ErrPublishInProgress    = &Error{Code: CodeConflict, Message: "publish already in progress"}
)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Status > 0 {
		target := e.URL
		if e.Method != "" {
			target = e.Method + " " + e.URL
		}
		msg = fmt.Sprintf("%s: %s: %d %s", msg, target, e.Status, e.StatusText)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches sentinels by code. A sentinel with a message only matches errors
// carrying the same message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// New returns an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap classifies err under code.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Remote builds a remote_store_failure from an unexpected response.
func Remote(method, url string, status int) *Error {
	return &Error{
		Code:       CodeRemoteStore,
		Message:    "remote store failure",
		Method:     method,
		URL:        url,
		Status:     status,
		StatusText: http.StatusText(status),
	}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
