package protocol

import (
	"errors"
	"fmt"
)

// Code is a machine readable failure reason carried on the wire.
type Code string

// Error codes.
const (
	CodeRateLimited       Code = "RateLimited"
	CodeCameraNotFound    Code = "CameraNotFound"
	CodeInvalidParams     Code = "InvalidParams"
	CodeUnknownCommand    Code = "UnknownCommand"
	CodeMalformedMessage  Code = "MalformedMessage"
	CodeRenderFailed      Code = "RenderFailed"
	CodeEmptyRenderResult Code = "EmptyRenderResult"
	CodeEncodeFailed      Code = "EncodeFailed"
	CodeServerStartFailed Code = "ServerStartFailed"
	CodeConnectionRefused Code = "ConnectionRefused"
	CodeTimeout           Code = "Timeout"
)

// Error is a classified bridge failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// NewError creates an error with a fixed message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under code. The message keeps the underlying text.
func Wrap(code Code, message string, err error) *Error {
	if err != nil {
		message = message + ": " + err.Error()
	}
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err,
// NewError(CodeTimeout, "")) works as a code check.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// AsError returns err as an *Error. Unclassified errors become RenderFailed.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeRenderFailed, Message: err.Error(), Err: err}
}

// CodeOf returns the code of err, or "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return AsError(err).Code
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
