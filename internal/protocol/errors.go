package protocol

import (
	"fmt"

	"github.com/modelnet-labs/modelnet/internal/models"
)

// Error codes surfaced to callers on error messages.
const (
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeLicenseExpired       = "LICENSE_EXPIRED"
	CodeQuotaExceeded        = "QUOTA_EXCEEDED"
	CodeModelNotFound        = "MODEL_NOT_FOUND"
	CodeValidationError      = "VALIDATION_ERROR"
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeInternalError        = "INTERNAL_ERROR"
)

// Error is a structured protocol-level error. It is carried as the payload
// of an error message and never terminates the connection it travels on.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a protocol error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details}
}

// NewErrorMessage builds an error message answering a failed request.
// The reply references the failed request's message ID in its payload so
// callers can correlate.
func NewErrorMessage(perr *Error, inReplyTo string, lic *models.LicenseInfo) *Message {
	payload := map[string]any{
		"code":    perr.Code,
		"message": perr.Message,
	}
	if len(perr.Details) > 0 {
		payload["details"] = perr.Details
	}
	if inReplyTo != "" {
		payload["in_reply_to"] = inReplyTo
	}
	return NewMessage(TypeError, payload, lic)
}
