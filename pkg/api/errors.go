package api

import (
	"net/http"
	"strings"
)

// ErrorType classifies an APIError and selects its HTTP status.
type ErrorType string

const (
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
	ErrorTypeServerError     ErrorType = "server_error"
)

var errorStatus = map[ErrorType]int{
	ErrorTypeInvalidRequest:  http.StatusBadRequest,
	ErrorTypeUnauthorized:    http.StatusUnauthorized,
	ErrorTypeNotFound:        http.StatusNotFound,
	ErrorTypeTooManyRequests: http.StatusTooManyRequests,
	ErrorTypeServerError:     http.StatusInternalServerError,
}

// HTTPStatus is the response status for the type. Unknown types are 500.
func (t ErrorType) HTTPStatus() int {
	if s, ok := errorStatus[t]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// APIError is the error body returned by every JSON endpoint. Param names
// the offending request field, if any.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Param != "" {
		b.WriteString(" (param: " + e.Param + ")")
	}
	return b.String()
}

// ErrorResponse is the {"error": {...}} envelope.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewInvalidRequestError reports a bad value for param.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{Type: ErrorTypeInvalidRequest, Param: param, Message: message}
}

func NewNotFoundError(message string) *APIError {
	return &APIError{Type: ErrorTypeNotFound, Message: message}
}

func NewServerError(message string) *APIError {
	return &APIError{Type: ErrorTypeServerError, Message: message}
}

// NewTooManyRequestsError is used both for rate limits and for a full
// execution pool.
func NewTooManyRequestsError(message string) *APIError {
	return &APIError{Type: ErrorTypeTooManyRequests, Message: message}
}

func NewUnauthorizedError(message string) *APIError {
	return &APIError{Type: ErrorTypeUnauthorized, Message: message}
}
