package models

import (
	"errors"
	"fmt"
)

// ErrorKind 对外稳定的错误分类
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindInvalidPort        ErrorKind = "invalid_port"
	KindDeviceUnavailable  ErrorKind = "device_unavailable"
	KindIoError            ErrorKind = "io_error"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindUnreachable        ErrorKind = "unreachable"
)

// ErrorResponse defines API error response format
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

/**
 * KindError carries a stable error kind and a human readable message
 * @property {ErrorKind} Kind - Stable classification used by callers and the HTTP layer
 * @property {string} Message - Message safe to show to API users
 * @property {error} Err - Underlying cause, kept for logs and errors.Is
 */
type KindError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *KindError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// Is matches any KindError with the same kind, so errors.Is(err, ErrInvalidPort) works.
func (e *KindError) Is(target error) bool {
	var t *KindError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidPort        = &KindError{Kind: KindInvalidPort, Message: "invalid port"}
	ErrDeviceUnavailable  = &KindError{Kind: KindDeviceUnavailable, Message: "device unavailable"}
	ErrIoError            = &KindError{Kind: KindIoError, Message: "serial i/o failed"}
	ErrServiceUnavailable = &KindError{Kind: KindServiceUnavailable, Message: "service unavailable"}
)

func NewKindError(kind ErrorKind, err error, format string, args ...interface{}) *KindError {
	return &KindError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// KindOf returns the kind of the first KindError in err's chain, or KindNone.
func KindOf(err error) ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindNone
}

// MessageOf returns the user facing message of err without internal causes.
func MessageOf(err error) string {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Code returns the dotted code used in API error bodies
func (k ErrorKind) Code() string {
	switch k {
	case KindNone:
		return ""
	case KindInvalidPort:
		return "switch.invalid_port"
	case KindDeviceUnavailable:
		return "serial.device_unavailable"
	case KindIoError:
		return "serial.io_error"
	case KindServiceUnavailable:
		return "backend.unavailable"
	case KindUnreachable:
		return "backend.unreachable"
	}
	return "internal." + string(k)
}
