// Package errors defines the closed set of error kinds used by the
// credential-issuance core, each carrying the HTTP status the outermost
// handler maps it to. Components raise one of these at the point of
// detection; nothing below the HTTP layer formats responses itself.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds
const (
	// KindInvalidRequest is returned for malformed or missing request fields,
	// including a mismatched redirect URI.
	KindInvalidRequest = "invalid_request"

	// KindInvalidPayload is returned for a structurally invalid payload,
	// distinct from a missing field.
	KindInvalidPayload = "invalid_payload"

	// KindSessionValidation is returned for JWT or session-creation
	// validation failures. The Details field carries the specific cause.
	KindSessionValidation = "session_validation"

	// KindSessionNotFound is returned when a session id is not found.
	KindSessionNotFound = "session_not_found"

	// KindInvalidAccessToken is returned when an authorization code is not
	// found, ambiguous, or mismatched.
	KindInvalidAccessToken = "invalid_access_token"

	// KindAuthorizationCodeExpired is returned when a code is found but past its TTL.
	KindAuthorizationCodeExpired = "authorization_code_expired"

	// KindSessionExpired is returned when a session is found but past its TTL.
	KindSessionExpired = "session_expired"

	// KindJweDecryption is returned when a JWE is structurally invalid or
	// decryption failed.
	KindJweDecryption = "jwe_decryption"

	// KindServer is returned for anything unanticipated. The outward message
	// is always genericized; full detail stays in the log.
	KindServer = "server_error"
)

// statusCodes maps each kind to its fixed HTTP status.
var statusCodes = map[string]int{
	KindInvalidRequest:           http.StatusBadRequest,
	KindInvalidPayload:           http.StatusBadRequest,
	KindSessionValidation:        http.StatusBadRequest,
	KindSessionNotFound:          http.StatusBadRequest,
	KindInvalidAccessToken:       http.StatusForbidden,
	KindAuthorizationCodeExpired: http.StatusForbidden,
	KindSessionExpired:           http.StatusForbidden,
	KindJweDecryption:            http.StatusForbidden,
	KindServer:                   http.StatusInternalServerError,
}

// Error represents an error in the application.
type Error struct {
	// Kind is one of the Kind* constants.
	Kind string

	// Message is the error message.
	Message string

	// Details optionally distinguishes the specific cause for metric
	// classification (session validation failures rely on this).
	Details string

	// Cause is the underlying error.
	Cause error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode returns the HTTP status for this error's kind.
func (e *Error) StatusCode() int {
	if code, ok := statusCodes[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// New creates a new error of the given kind.
func New(kind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidRequestError creates a new invalid request error.
func NewInvalidRequestError(message string, cause error) *Error {
	return New(KindInvalidRequest, message, cause)
}

// NewInvalidPayloadError creates a new invalid payload error.
func NewInvalidPayloadError(message string, cause error) *Error {
	return New(KindInvalidPayload, message, cause)
}

// NewSessionValidationError creates a new session validation error carrying
// a details string distinguishing the specific cause.
func NewSessionValidationError(details string, cause error) *Error {
	return &Error{
		Kind:    KindSessionValidation,
		Message: "session validation failed",
		Details: details,
		Cause:   cause,
	}
}

// NewSessionNotFoundError creates a new session not found error.
func NewSessionNotFoundError(message string, cause error) *Error {
	return New(KindSessionNotFound, message, cause)
}

// NewInvalidAccessTokenError creates a new invalid access token error.
func NewInvalidAccessTokenError(message string, cause error) *Error {
	return New(KindInvalidAccessToken, message, cause)
}

// NewAuthorizationCodeExpiredError creates a new authorization code expired error.
func NewAuthorizationCodeExpiredError(message string, cause error) *Error {
	return New(KindAuthorizationCodeExpired, message, cause)
}

// NewSessionExpiredError creates a new session expired error.
func NewSessionExpiredError(message string, cause error) *Error {
	return New(KindSessionExpired, message, cause)
}

// NewJweDecryptionError creates a new JWE decryption error.
func NewJweDecryptionError(message string, cause error) *Error {
	return New(KindJweDecryption, message, cause)
}

// NewServerError creates a new server error.
func NewServerError(message string, cause error) *Error {
	return New(KindServer, message, cause)
}

func isKind(err error, kind string) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsInvalidRequest checks if the error is an invalid request error.
func IsInvalidRequest(err error) bool {
	return isKind(err, KindInvalidRequest)
}

// IsInvalidPayload checks if the error is an invalid payload error.
func IsInvalidPayload(err error) bool {
	return isKind(err, KindInvalidPayload)
}

// IsSessionValidation checks if the error is a session validation error.
func IsSessionValidation(err error) bool {
	return isKind(err, KindSessionValidation)
}

// IsSessionNotFound checks if the error is a session not found error.
func IsSessionNotFound(err error) bool {
	return isKind(err, KindSessionNotFound)
}

// IsInvalidAccessToken checks if the error is an invalid access token error.
func IsInvalidAccessToken(err error) bool {
	return isKind(err, KindInvalidAccessToken)
}

// IsAuthorizationCodeExpired checks if the error is an authorization code expired error.
func IsAuthorizationCodeExpired(err error) bool {
	return isKind(err, KindAuthorizationCodeExpired)
}

// IsSessionExpired checks if the error is a session expired error.
func IsSessionExpired(err error) bool {
	return isKind(err, KindSessionExpired)
}

// IsJweDecryption checks if the error is a JWE decryption error.
func IsJweDecryption(err error) bool {
	return isKind(err, KindJweDecryption)
}

// IsServer checks if the error is a server error.
func IsServer(err error) bool {
	return isKind(err, KindServer)
}

// Response is the JSON body returned for a failed request.
type Response struct {
	Message      string `json:"message"`
	Code         string `json:"code"`
	ErrorSummary string `json:"errorSummary"`
}

// ToResponse converts any error to its HTTP status and response body.
// Unanticipated errors are wrapped as KindServer and their message replaced
// with a generic string so internal detail never reaches the caller.
func ToResponse(err error) (int, Response) {
	var e *Error
	if !errors.As(err, &e) {
		e = NewServerError("Server Error", err)
	}

	message := e.Message
	if e.Kind == KindServer {
		message = "Server Error"
	}

	return e.StatusCode(), Response{
		Message:      message,
		Code:         e.Kind,
		ErrorSummary: fmt.Sprintf("%d: %s", e.StatusCode(), message),
	}
}
