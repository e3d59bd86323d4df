// Package errors provides the error taxonomy shared by the livesync server
// and client. Typed errors implement Is so callers can match them against
// the sentinels with errors.Is.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// New is an alias for the standard library errors.New.
var New = errors.New

// As is an alias for the standard library errors.As.
var As = errors.As

// Sentinel errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrTimeout        = errors.New("operation timed out")
	ErrCanceled       = errors.New("operation canceled")
	ErrNoUser         = errors.New("no user")
	ErrClockSkew      = errors.New("clock skew")
	ErrNotConnected   = errors.New("not connected")
	ErrClosed         = errors.New("closed")
	ErrReconnectLimit = errors.New("reconnect attempts exhausted")
)

// Connect error codes sent by the server during the handshake.
const (
	CodeTokenRefreshRequired = "ERR_JWT_TOKEN_REFRESH_REQUIRED"
	CodeTokenExpired         = "ERR_JWT_TOKEN_EXPIRED"
	CodeTokenInvalid         = "ERR_JWT_TOKEN_INVALID"
)

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// StatusError is a failure carrying an HTTP-style status code. Acknowledged
// socket requests and REST calls both report failures this way.
type StatusError struct {
	StatusCode int
	Name       string
	Message    string
}

// Error implements the error interface
func (e *StatusError) Error() string {
	name := e.Name
	if name == "" {
		name = http.StatusText(e.StatusCode)
	}
	if e.Message == "" {
		return fmt.Sprintf("%s (status %d)", name, e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d): %s", name, e.StatusCode, e.Message)
}

// Is implements errors.Is support
func (e *StatusError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests:
		return target == ErrRateLimited
	case http.StatusNotFound:
		return target == ErrNotFound
	case http.StatusUnauthorized:
		return target == ErrUnauthorized
	case http.StatusForbidden:
		return target == ErrForbidden
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return target == ErrTimeout
	}
	return false
}

// NewStatusError creates a StatusError with the standard name for code.
func NewStatusError(code int, message string) *StatusError {
	return &StatusError{StatusCode: code, Name: statusName(code), Message: message}
}

// NewTooManyRequests is returned when a request is refused because another
// one is already in flight or the caller exceeded its rate.
func NewTooManyRequests(message string) *StatusError {
	return NewStatusError(http.StatusTooManyRequests, message)
}

func statusName(code int) string {
	switch code {
	case http.StatusTooManyRequests:
		return "TooManyRequests"
	case http.StatusNotFound:
		return "NotFound"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusBadRequest:
		return "BadRequest"
	case http.StatusGatewayTimeout:
		return "GatewayTimeout"
	}
	return "InternalError"
}

// AuthenticationError is a credential failure. Code carries one of the
// ERR_JWT_* codes when the server rejected the handshake.
type AuthenticationError struct {
	Code    string
	Message string
	// Exp and RTI are set when a refresh is required: Exp is the unix time
	// the server wanted the refresh by, RTI the refresh token id.
	Exp int64
	RTI string
	Err error
}

// Error implements the error interface
func (e *AuthenticationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("authentication error (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("authentication error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrUnauthorized
}

// NewAuthenticationError creates a new AuthenticationError
func NewAuthenticationError(code, message string, err error) *AuthenticationError {
	return &AuthenticationError{Code: code, Message: message, Err: err}
}

// ClockSkewError is raised when the server demands a refresh for a credential
// the local clock still considers valid.
type ClockSkewError struct {
	ExpiresIn time.Duration
}

// Error implements the error interface
func (e *ClockSkewError) Error() string {
	return fmt.Sprintf("local clock is out of sync: credential expires in %s according to this host", e.ExpiresIn.Round(time.Second))
}

// Is implements errors.Is support
func (e *ClockSkewError) Is(target error) bool {
	return target == ErrClockSkew
}

// ConnectError is what the server reports when it rejects a connection.
type ConnectError struct {
	Message    string
	StatusCode int
	Code       string
	Exp        *int64
	RTI        string
}

// Error implements the error interface
func (e *ConnectError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("connect error (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("connect error: %s", e.Message)
}

// Is implements errors.Is support
func (e *ConnectError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// TimeoutError represents an operation timeout
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s timed out after %s", e.Operation, e.Duration)
}

// Is implements errors.Is support
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// NewTimeoutError creates a new TimeoutError
func NewTimeoutError(operation string, d time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Duration: d}
}

// APIError represents a failed call to an upstream API
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Endpoint   string
	Err        error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("API error from %s (status %d): %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error from %s: %s", e.Service, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests:
		return target == ErrRateLimited
	case http.StatusNotFound:
		return target == ErrNotFound
	case http.StatusUnauthorized:
		return target == ErrUnauthorized
	}
	return false
}

// NewAPIError creates a new APIError
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error in %s: %s: %v", e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{Component: component, Message: message, Err: err}
}

// SyncError wraps a failure to load resources from upstream.
type SyncError struct {
	Resource string
	Err      error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	return fmt.Sprintf("sync of %s failed: %v", e.Resource, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsRateLimited checks if an error is a rate limit error
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// IsUnauthorized checks if an error is an authentication failure
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsClockSkew checks if an error reports local clock skew
func IsClockSkew(err error) bool { return errors.Is(err, ErrClockSkew) }

// IsNoUser checks if an error reports a missing session
func IsNoUser(err error) bool { return errors.Is(err, ErrNoUser) }

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return errors.Is(err, ErrInvalidInput) }

// StatusCode extracts the status code carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}
