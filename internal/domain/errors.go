package domain

import (
	"errors"
	"fmt"
	"time"
)

// Scoring precondition failures. These are fatal for the advanced matching
// scorer and must reach the caller.
var (
	ErrNoValidPreAssessment = errors.New("client has no valid pre-assessment")
	ErrNoPreferences        = errors.New("client has no preferences")
	ErrInvalidTherapistUser = errors.New("therapist has no valid user information")
)

// MatchError represents a standardized matching error
type MatchError struct {
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	ClientID    string    `json:"client_id,omitempty"`
	TherapistID string    `json:"therapist_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Err         error     `json:"-"`
}

// Error implements the error interface
func (e *MatchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the sentinel so callers can use errors.Is.
func (e *MatchError) Unwrap() error {
	return e.Err
}

// Error codes for different failure scenarios
const (
	ErrCodeNoPreAssessment  = "NO_VALID_PRE_ASSESSMENT"
	ErrCodeNoPreferences    = "NO_PREFERENCES"
	ErrCodeInvalidTherapist = "INVALID_THERAPIST_USER"
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewMatchError wraps a sentinel with a code and the pair it concerns.
func NewMatchError(code string, err error, clientID, therapistID string) *MatchError {
	return &MatchError{
		Code:        code,
		Message:     err.Error(),
		ClientID:    clientID,
		TherapistID: therapistID,
		Timestamp:   time.Now().UTC(),
		Err:         err,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// IsPreconditionError reports whether err is one of the scoring precondition failures.
func IsPreconditionError(err error) bool {
	return errors.Is(err, ErrNoValidPreAssessment) ||
		errors.Is(err, ErrNoPreferences) ||
		errors.Is(err, ErrInvalidTherapistUser)
}
