package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/skilder-ai/identity/internal/audit/domain"
	identitykeydomain "github.com/skilder-ai/identity/internal/identitykey/domain"
	"github.com/skilder-ai/identity/internal/oauthstate"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// authError marks a failure to authenticate the presented identity key, so
// a missing key maps to 401 rather than 404.
type authError struct {
	cause error
}

func (e *authError) Error() string { return e.cause.Error() }
func (e *authError) Unwrap() error { return e.cause }

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var authErr *authError
	if errors.As(err, &authErr) {
		return http.StatusUnauthorized, errorPayload{
			Type:    unauthorizedType(authErr.cause),
			Message: "unauthorized",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, identitykeydomain.ErrKeyCollision):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, identitykeydomain.ErrNotFound),
		errors.Is(err, oauthstate.ErrProviderNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, oauthstate.ErrInvalidState):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_state",
			Message: "invalid or expired state",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func unauthorizedType(cause error) string {
	switch {
	case errors.Is(cause, identitykeydomain.ErrInvalidKeyFormat):
		return "invalid_key_format"
	case errors.Is(cause, identitykeydomain.ErrInvalidKeyPrefix):
		return "invalid_key_prefix"
	case errors.Is(cause, identitykeydomain.ErrNotFound):
		return "key_not_found"
	case errors.Is(cause, identitykeydomain.ErrRevoked):
		return "key_revoked"
	case errors.Is(cause, identitykeydomain.ErrExpired):
		return "key_expired"
	case errors.Is(cause, identitykeydomain.ErrNatureMismatch):
		return "key_nature_mismatch"
	default:
		return "unauthorized"
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// validationErrorCode reports the client-correctable causes. The caller
// gets the sentinel text as the code.
func validationErrorCode(err error) (string, bool) {
	for _, target := range []error{
		ErrInvalidRequest,
		identitykeydomain.ErrInvalidKeyFormat,
		identitykeydomain.ErrInvalidKeyPrefix,
		identitykeydomain.ErrInvalidNature,
		identitykeydomain.ErrInvalidOwner,
		identitykeydomain.ErrInvalidKeyID,
		oauthstate.ErrInvalidRequest,
		oauthstate.ErrRedirectNotAllowed,
		auditdomain.ErrInvalidTimeRange,
	} {
		if errors.Is(err, target) {
			return target.Error(), true
		}
	}
	return "", false
}

func validationErrorField(code string) string {
	switch code {
	case identitykeydomain.ErrInvalidKeyFormat.Error(), identitykeydomain.ErrInvalidKeyPrefix.Error():
		return "key"
	case identitykeydomain.ErrInvalidNature.Error():
		return "nature"
	case identitykeydomain.ErrInvalidOwner.Error():
		return "owner_reference"
	case identitykeydomain.ErrInvalidKeyID.Error():
		return "id"
	case oauthstate.ErrInvalidRequest.Error(), oauthstate.ErrRedirectNotAllowed.Error():
		return "redirect_uri"
	case auditdomain.ErrInvalidTimeRange.Error():
		return "start_at"
	default:
		return "request"
	}
}

// classifyErrorForLog returns (error_type, error_code) for the request log.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server", payload.Type
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return "auth", payload.Type
	case status == http.StatusTooManyRequests:
		return "rate_limit", payload.Type
	default:
		return "client", payload.Type
	}
}
