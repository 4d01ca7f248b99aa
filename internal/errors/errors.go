// Package errors provides the bus's unified error vocabulary: a stable,
// machine-readable error code paired with an HTTP status and a safe-to-log
// message, backing both ActionResult.error_code (§4.5) and any HTTP surface.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine-readable error identifier.
type ErrorCode string

const (
	// Core Actions API validation codes (§4.5).
	ErrCodeInvalidUserID       ErrorCode = "INVALID_USER_ID"
	ErrCodeInvalidDate         ErrorCode = "INVALID_DATE"
	ErrCodeInvalidClosureRate  ErrorCode = "INVALID_CLOSURE_RATE"
	ErrCodeInvalidFeedback     ErrorCode = "INVALID_FEEDBACK"
	ErrCodeInvalidTaskKey      ErrorCode = "INVALID_TASK_KEY"
	ErrCodeInvalidTargetDays   ErrorCode = "INVALID_TARGET_DAYS"
	ErrCodeInvalidSettings     ErrorCode = "INVALID_SETTINGS"
	ErrCodeNotInitialized      ErrorCode = "NOT_INITIALIZED"
	ErrCodePlanGenerationFailed ErrorCode = "PLAN_GENERATION_FAILED"
	ErrCodeApprovalFailed      ErrorCode = "APPROVAL_FAILED"
	ErrCodeRejectionFailed     ErrorCode = "REJECTION_FAILED"
	ErrCodeDecompositionFailed ErrorCode = "DECOMPOSITION_FAILED"
	ErrCodeStatusFetchFailed   ErrorCode = "STATUS_FETCH_FAILED"
	ErrCodeSettingsUpdateFailed ErrorCode = "SETTINGS_UPDATE_FAILED"

	// Storage / config / crypto codes.
	ErrCodeAlreadyExists     ErrorCode = "ALREADY_EXISTS"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeConfigurationError ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeDecryptionError   ErrorCode = "DECRYPTION_ERROR"
	ErrCodeDatabaseError     ErrorCode = "DATABASE_ERROR"

	// OAuth codes (§4.9).
	ErrCodeOAuthInvalidCode         ErrorCode = "invalid_code"
	ErrCodeOAuthCodeAlreadyUsed     ErrorCode = "code_already_used"
	ErrCodeOAuthInvalidClientID     ErrorCode = "invalid_client_id"
	ErrCodeOAuthInvalidClientSecret ErrorCode = "invalid_client_secret"
	ErrCodeOAuthInvalidRedirectURI  ErrorCode = "invalid_redirect_uri"
	ErrCodeOAuthInvalidGrantType    ErrorCode = "invalid_grant_type"
	ErrCodeOAuthInvalidRefreshToken ErrorCode = "invalid_refresh_token"
	ErrCodeOAuthTokenRevoked        ErrorCode = "token_revoked"
	ErrCodeOAuthAccessDenied        ErrorCode = "access_denied"
	ErrCodeOAuthDuplicateInstall    ErrorCode = "duplicate_install"
	ErrCodeOAuthInvalidState        ErrorCode = "invalid_state"

	ErrCodeInternal ErrorCode = "INTERNAL"
)

// ServiceError is a structured error carrying a stable code, an HTTP status,
// and a message that is always safe to show to an end user or log verbatim.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a non-secret key/value pair for structured logging.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError with no wrapped cause.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap creates a ServiceError wrapping an internal cause. The internal cause's
// text must never be copied into Message — see §7 "internal exception text
// never reaches the user".
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

func InvalidUserID(reason string) *ServiceError {
	return New(ErrCodeInvalidUserID, "invalid user id: "+reason, http.StatusBadRequest)
}

func InvalidDate(reason string) *ServiceError {
	return New(ErrCodeInvalidDate, "invalid plan date: "+reason, http.StatusBadRequest)
}

func InvalidClosureRate(reason string) *ServiceError {
	return New(ErrCodeInvalidClosureRate, "invalid closure rate: "+reason, http.StatusBadRequest)
}

func InvalidFeedback(reason string) *ServiceError {
	return New(ErrCodeInvalidFeedback, "invalid feedback: "+reason, http.StatusBadRequest)
}

func InvalidTaskKey(reason string) *ServiceError {
	return New(ErrCodeInvalidTaskKey, "invalid task key: "+reason, http.StatusBadRequest)
}

func InvalidTargetDays(reason string) *ServiceError {
	return New(ErrCodeInvalidTargetDays, "invalid target days: "+reason, http.StatusBadRequest)
}

func InvalidSettings(reason string) *ServiceError {
	return New(ErrCodeInvalidSettings, "invalid settings: "+reason, http.StatusBadRequest)
}

func NotInitialized() *ServiceError {
	return New(ErrCodeNotInitialized, "triage engine not initialized", http.StatusServiceUnavailable)
}

func PlanGenerationFailed(err error) *ServiceError {
	return Wrap(ErrCodePlanGenerationFailed, "plan generation failed", http.StatusInternalServerError, err)
}

func ApprovalFailed(err error) *ServiceError {
	return Wrap(ErrCodeApprovalFailed, "approval recording failed", http.StatusInternalServerError, err)
}

func RejectionFailed(err error) *ServiceError {
	return Wrap(ErrCodeRejectionFailed, "rejection recording failed", http.StatusInternalServerError, err)
}

func DecompositionFailed(err error) *ServiceError {
	return Wrap(ErrCodeDecompositionFailed, "task decomposition failed", http.StatusInternalServerError, err)
}

func StatusFetchFailed(err error) *ServiceError {
	return Wrap(ErrCodeStatusFetchFailed, "status fetch failed", http.StatusInternalServerError, err)
}

func SettingsUpdateFailed(err error) *ServiceError {
	return Wrap(ErrCodeSettingsUpdateFailed, "settings update failed", http.StatusInternalServerError, err)
}

func AlreadyExists(resource, id string) *ServiceError {
	return New(ErrCodeAlreadyExists, "resource already exists", http.StatusConflict).
		WithDetails("resource", resource).WithDetails("id", id)
}

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).WithDetails("id", id)
}

func ConfigurationError(plugin, path, reason string) *ServiceError {
	return New(ErrCodeConfigurationError, fmt.Sprintf("plugin %s: invalid config at %s: %s", plugin, path, reason), http.StatusBadRequest)
}

// DecryptionError intentionally carries no details about which cipher step
// failed (mode, padding, tag) to avoid an oracle (§4.1).
func DecryptionError() *ServiceError {
	return New(ErrCodeDecryptionError, "decryption failed", http.StatusInternalServerError)
}

func DatabaseError(operation string, err error) *ServiceError {
	return Wrap(ErrCodeDatabaseError, "database operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// IsServiceError reports whether err is, or wraps, a *ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// As extracts a *ServiceError from an error chain, or nil.
func As(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}
