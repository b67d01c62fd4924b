package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/vnsid/vnsid/internal/wire"
)

// ErrorType classifies a failure by how the server must react to it.
type ErrorType string

const (
	// Malformed frame, oversized payload, missing login. Closes the connection.
	ErrorTypeProtocol ErrorType = "PROTOCOL_ERROR"
	// Socket write timed out; retried a bounded number of times.
	ErrorTypeTransientIO ErrorType = "TRANSIENT_IO"
	// Permanent socket failure. Closes the session.
	ErrorTypeFatalIO ErrorType = "FATAL_IO"
	// Input delivered nothing for longer than the inactivity timeout.
	ErrorTypeStarvation ErrorType = "STARVATION"
	// Scrambled payload, broken TS sync, missing PES start code.
	ErrorTypeCorruption ErrorType = "STREAM_CORRUPTION"
	// Ring buffer overflow or no free input device.
	ErrorTypeResourceExhausted ErrorType = "RESOURCE_EXHAUSTION"

	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeInvalidData  ErrorType = "INVALID_DATA"
	ErrorTypeLocked       ErrorType = "LOCKED"
	ErrorTypeNotSupported ErrorType = "NOT_SUPPORTED"
	ErrorTypeRecRunning   ErrorType = "RECORDING_RUNNING"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
)

// AppError represents an application error with additional context.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       uint32                 `json:"code"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another AppError of the same type and message, so package
// level sentinels survive wrapping with %w.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type && t.Message == e.Message
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// Fatal reports whether the connection that produced the error must close.
func (e *AppError) Fatal() bool {
	return e.Type == ErrorTypeProtocol || e.Type == ErrorTypeFatalIO
}

var typeCodes = map[ErrorType]uint32{
	ErrorTypeProtocol:          wire.RetError,
	ErrorTypeTransientIO:       wire.RetError,
	ErrorTypeFatalIO:           wire.RetError,
	ErrorTypeStarvation:        wire.RetError,
	ErrorTypeCorruption:        wire.RetError,
	ErrorTypeResourceExhausted: wire.RetDataLocked,
	ErrorTypeNotFound:          wire.RetDataUnknown,
	ErrorTypeInvalidData:       wire.RetDataInvalid,
	ErrorTypeLocked:            wire.RetDataLocked,
	ErrorTypeNotSupported:      wire.RetNotSupported,
	ErrorTypeRecRunning:        wire.RetRecRunning,
	ErrorTypeInternal:          wire.RetError,
}

var typeStatus = map[ErrorType]int{
	ErrorTypeNotFound:          http.StatusNotFound,
	ErrorTypeInvalidData:       http.StatusBadRequest,
	ErrorTypeLocked:            http.StatusConflict,
	ErrorTypeNotSupported:      http.StatusNotImplemented,
	ErrorTypeResourceExhausted: http.StatusServiceUnavailable,
}

// New creates a new AppError with the return code of its type.
func New(errType ErrorType, message string) *AppError {
	status, ok := typeStatus[errType]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &AppError{
		Type:       errType,
		Message:    message,
		Code:       typeCodes[errType],
		HTTPStatus: status,
	}
}

// Wrap wraps an existing error.
func Wrap(err error, errType ErrorType, message string) *AppError {
	e := New(errType, message)
	e.Err = err
	return e
}

func NewProtocolError(format string, args ...interface{}) *AppError {
	return New(ErrorTypeProtocol, fmt.Sprintf(format, args...))
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewInvalidDataError(message string) *AppError {
	return New(ErrorTypeInvalidData, message)
}

func NewNotSupportedError(feature string) *AppError {
	return New(ErrorTypeNotSupported, fmt.Sprintf("%s not supported", feature))
}

func NewLockedError(message string) *AppError {
	return New(ErrorTypeLocked, message)
}

func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, message)
}

func WrapInternalError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeInternal, message)
}

func WrapFatalIO(err error, message string) *AppError {
	return Wrap(err, ErrorTypeFatalIO, message)
}

func WrapTransientIO(err error, message string) *AppError {
	return Wrap(err, ErrorTypeTransientIO, message)
}

// GetAppError extracts the outermost AppError in err's chain.
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsAppError checks if an error is, or wraps, an AppError.
func IsAppError(err error) bool {
	_, ok := GetAppError(err)
	return ok
}

// TypeOf returns the error type of err, INTERNAL_ERROR for plain errors.
func TypeOf(err error) ErrorType {
	if appErr, ok := GetAppError(err); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// Is and As re-export the standard helpers so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }
