package sim

import (
	"errors"
	"fmt"
)

// ErrorClass classifies infrastructure errors raised around the simulation.
// Game-domain failures (a failed drain, a failed quick fix) are never errors;
// they are outcomes carried by the feedback message and the score.
type ErrorClass string

const (
	// ErrorClassConfig indicates invalid tuning, catalog or script input.
	// Raised at startup and never retried.
	ErrorClassConfig ErrorClass = "config"

	// ErrorClassNotFound indicates a referenced session or entity does not exist.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassInvalid indicates a malformed intent or payload.
	ErrorClassInvalid ErrorClass = "invalid"

	// ErrorClassInternal indicates a bug or an unexpected runtime condition.
	ErrorClassInternal ErrorClass = "internal"
)

// SimError represents a classified error with context.
// nolint:revive // SimError is intentionally named to distinguish from standard errors
type SimError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Subject is the worker, incident or session ID involved, if any.
	Subject string `json:"subject,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *SimError) Error() string {
	msg := e.Message
	if e.Subject != "" {
		msg = fmt.Sprintf("%s (subject=%s)", msg, e.Subject)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *SimError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *SimError) Is(target error) bool {
	t, ok := target.(*SimError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string, err error) *SimError {
	return &SimError{Class: ErrorClassConfig, Message: message, Err: err}
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *SimError {
	return &SimError{Class: ErrorClassNotFound, Message: message, Err: err}
}

// NewInvalidError creates a new invalid-input error.
func NewInvalidError(message string, err error) *SimError {
	return &SimError{Class: ErrorClassInvalid, Message: message, Err: err}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *SimError {
	return &SimError{Class: ErrorClassInternal, Message: message, Err: err}
}

// WithSubject adds the ID of the entity involved.
func (e *SimError) WithSubject(id string) *SimError {
	e.Subject = id
	return e
}

// WithCode adds an error code to an error.
func (e *SimError) WithCode(code string) *SimError {
	e.Code = code
	return e
}

// WithDetail adds a detail key-value pair to an error.
func (e *SimError) WithDetail(key string, value interface{}) *SimError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var se *SimError
	if errors.As(err, &se) {
		return se.Class, true
	}
	return "", false
}

// IsConfigError returns true if the error is a configuration error.
func IsConfigError(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassConfig
}

// IsNotFound returns true if the error is a not-found error.
func IsNotFound(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassNotFound
}

// IsInvalid returns true if the error is an invalid-input error.
func IsInvalid(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassInvalid
}

// Common error codes.
const (
	ErrCodeCatalogIncomplete = "CATALOG_INCOMPLETE"
	ErrCodeInvalidParams     = "INVALID_PARAMS"
	ErrCodeUnknownIntent     = "UNKNOWN_INTENT"
	ErrCodeUnknownIncident   = "UNKNOWN_INCIDENT_TYPE"
	ErrCodeMissingPayload    = "MISSING_PAYLOAD"
	ErrCodeInvalidGameSpeed  = "INVALID_GAME_SPEED"
	ErrCodeSessionNotFound   = "SESSION_NOT_FOUND"
)
