package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Auth errors
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInvalidToken = "INVALID_TOKEN"

	// Validation errors
	CodeBadRequest      = "BAD_REQUEST"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeMissingField    = "MISSING_FIELD"

	// Pipeline errors
	CodeParseError        = "PARSE_ERROR"
	CodeLoopDetected      = "LOOP_DETECTED"
	CodeAutomatedMail     = "AUTOMATED_MAIL"
	CodeNoValidRecipients = "NO_VALID_RECIPIENTS"
	CodeSendFailure       = "SEND_FAILURE"
	CodeUnknownTool       = "UNKNOWN_TOOL"

	// Calendar errors
	CodeIdentityNotFound = "IDENTITY_NOT_FOUND"
	CodeEventNotFound    = "EVENT_NOT_FOUND"
	CodeProviderError    = "PROVIDER_ERROR"

	// Resource errors
	CodeNotFound = "NOT_FOUND"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
	CodeTimeout       = "TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Auth errors
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

func InvalidToken(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidToken,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

// Validation errors
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func InvalidArgument(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidArgument,
		Message: fmt.Sprintf("invalid value for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

func MissingField(field string) *AppError {
	return &AppError{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// Pipeline errors
func ParseError(reason string, err error) *AppError {
	return &AppError{
		Code:    CodeParseError,
		Message: fmt.Sprintf("cannot parse email: %s", reason),
		Status:  http.StatusUnprocessableEntity,
		Err:     err,
	}
}

func LoopDetected(sender string) *AppError {
	return &AppError{
		Code:    CodeLoopDetected,
		Message: "message originated from the assistant address",
		Status:  http.StatusConflict,
		Details: map[string]any{"sender": sender},
	}
}

func NoValidRecipients() *AppError {
	return &AppError{
		Code:    CodeNoValidRecipients,
		Message: "no valid recipients after excluding the assistant address",
		Status:  http.StatusUnprocessableEntity,
	}
}

// SendFailure keeps the undelivered text in Details so it can be inspected or resent by hand.
func SendFailure(finalText string, err error) *AppError {
	return &AppError{
		Code:    CodeSendFailure,
		Message: "mail transport failed",
		Status:  http.StatusBadGateway,
		Details: map[string]any{"final_text": finalText},
		Err:     err,
	}
}

func UnknownTool(name string) *AppError {
	return &AppError{
		Code:    CodeUnknownTool,
		Message: fmt.Sprintf("unknown tool: %s", name),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"tool": name},
	}
}

// Calendar errors
func IdentityNotFound(email string) *AppError {
	return &AppError{
		Code:    CodeIdentityNotFound,
		Message: "User not found",
		Status:  http.StatusNotFound,
		Details: map[string]any{"email": email},
	}
}

func EventNotFound(eventID string) *AppError {
	return &AppError{
		Code:    CodeEventNotFound,
		Message: fmt.Sprintf("event %s not found", eventID),
		Status:  http.StatusNotFound,
		Details: map[string]any{"event_id": eventID},
	}
}

func ProviderError(service string, err error) *AppError {
	return &AppError{
		Code:    CodeProviderError,
		Message: fmt.Sprintf("provider error: %s", service),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// Resource errors
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

// Internal errors
func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func Timeout(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

// CodeOf returns the code of the outermost AppError in err's chain, or "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternalError
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
