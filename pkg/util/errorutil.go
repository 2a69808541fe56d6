package util

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

// Stable error codes returned in response bodies.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeDuplicateIdentity  = "DUPLICATE_IDENTITY"
	CodeMalformedToken     = "MALFORMED_TOKEN"
	CodeExpiredToken       = "EXPIRED_TOKEN"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeForbidden          = "FORBIDDEN"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

// NewInvalidCredentials is the uniform login failure. It deliberately does
// not distinguish an unknown identifier from a wrong password.
func NewInvalidCredentials() error {
	return NewDomainError(CodeInvalidCredentials, "invalid credentials", http.StatusUnauthorized, nil)
}

func NewDuplicateIdentity(email string) error {
	return NewDomainError(CodeDuplicateIdentity, "email already registered", http.StatusConflict, map[string]any{"email": email})
}

func NewMalformedToken() error {
	return NewDomainError(CodeMalformedToken, "token is malformed or its signature is invalid", http.StatusUnauthorized, nil)
}

// NewExpiredToken carries the token's issue and expiry instants so clients
// can see how stale the credential is.
func NewExpiredToken(issuedAt, expiresAt time.Time) error {
	return NewDomainError(CodeExpiredToken, "token has expired, please log in again", http.StatusUnauthorized, map[string]any{
		"issued_at":  issuedAt.UTC().Format(time.DateTime),
		"expires_at": expiresAt.UTC().Format(time.DateTime),
	})
}

func NewUnauthenticated(message string) error {
	return NewDomainError(CodeUnauthenticated, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

// NewValidationError reports malformed request shapes. Details maps field
// names to human-readable messages.
func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

// NewStoreUnavailable wraps a persistence failure. Kept distinct from the
// credential errors so a database outage never reads as a bad password.
func NewStoreUnavailable(err error) error {
	return &DomainError{
		Code:       CodeStoreUnavailable,
		Message:    "persistence dependency unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewRateLimited() error {
	return NewDomainError(CodeRateLimited, "too many attempts, try again later", http.StatusTooManyRequests, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return &DomainError{
			Code:       codeForStatus(fiberErr.Code),
			Message:    fiberErr.Message,
			HTTPStatus: fiberErr.Code,
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &DomainError{
			Code:       "NOT_FOUND",
			Message:    "resource not found",
			HTTPStatus: http.StatusNotFound,
		}
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// MapError converts generic errors to DomainError.
func MapError(err error) error {
	return ToDomainError(err)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return CodeUnauthenticated
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusBadRequest:
		return CodeValidationFailed
	case http.StatusConflict:
		return CodeDuplicateIdentity
	default:
		return CodeInternal
	}
}
