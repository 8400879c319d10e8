package errors

import "errors"

// Domain errors - these represent protocol and business rule violations
var (
	// Authentication
	ErrMissingIdentityClaims = errors.New("missing required identity claims")
	ErrInvalidToken          = errors.New("invalid or expired token")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbiddenRoom         = errors.New("not authorized to join this room")

	// Message validation
	ErrRecipientRequired = errors.New("recipient is required")
	ErrContentRequired   = errors.New("message content is required")
	ErrContentTooLong    = errors.New("message content exceeds maximum length")
	ErrInvalidRole       = errors.New("invalid sender role")

	// Typing / read receipts
	ErrTicketIDRequired  = errors.New("ticket ID is required")
	ErrMessageIDRequired = errors.New("message ID is required")
	ErrReceiptUnroutable = errors.New("read receipt needs a ticket or sender to route to")

	// Rate limiting
	ErrRateLimited = errors.New("rate limit exceeded")
)

// AppError wraps errors with additional context for HTTP responses
type AppError struct {
	Err        error  // The underlying error
	Message    string // User-friendly message
	Code       string // Machine-readable error code
	StatusCode int    // HTTP status code
	Details    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewBadRequestError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "BAD_REQUEST",
		StatusCode: 400,
	}
}

func NewValidationError(err error, message string, details map[string]interface{}) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		StatusCode: 422,
		Details:    details,
	}
}
