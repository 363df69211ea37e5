package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/gatekeeper/internal/audit/domain"
	authdomain "github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/internal/authorization"
	"github.com/smallbiznis/gatekeeper/internal/oauth/client"
	"github.com/smallbiznis/gatekeeper/internal/oauth/consent"
	"github.com/smallbiznis/gatekeeper/internal/rbac"
	"github.com/smallbiznis/gatekeeper/pkg/db"
	"gorm.io/gorm"
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
	ErrServiceUnavailable = errors.New("service_unavailable")
)

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

// respondError writes the error body before the chain's audit stage runs so
// the recorded status matches the response.
func respondError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	status, payload := mapError(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: payload})
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

// errorClass maps a family of domain errors to one response status.
type errorClass struct {
	status  int
	typ     string
	message string
	errs    []error
}

var errorClasses = []errorClass{
	{http.StatusUnauthorized, "unauthorized", "unauthorized", []error{
		ErrUnauthorized,
		authdomain.ErrInvalidCredentials,
		authdomain.ErrAccountLocked,
		authdomain.ErrUserInactive,
		authdomain.ErrInvalidSession,
		authdomain.ErrSessionNotFound,
		authdomain.ErrSessionExpired,
		authdomain.ErrSessionRevoked,
	}},
	{http.StatusForbidden, "forbidden", "forbidden", []error{
		ErrForbidden,
		authorization.ErrForbidden,
	}},
	{http.StatusConflict, "conflict", "conflict", []error{
		ErrConflict,
		authdomain.ErrUserExists,
		rbac.ErrRoleExists,
		client.ErrClientExists,
	}},
	{http.StatusNotFound, "not_found", "not found", []error{
		ErrNotFound,
		authdomain.ErrUserNotFound,
		rbac.ErrRoleNotFound,
		rbac.ErrPermissionNotFound,
		client.ErrClientNotFound,
		consent.ErrNotFound,
		gorm.ErrRecordNotFound,
	}},
	{http.StatusServiceUnavailable, "service_unavailable", "service unavailable", []error{
		ErrServiceUnavailable,
	}},
}

// fieldErrors are domain errors reported as a single invalid field.
var fieldErrors = []struct {
	err error
	ValidationError
}{
	{ErrInvalidRequest, ValidationError{"request", "invalid_request", "invalid request"}},
	{client.ErrInvalidRequest, ValidationError{"request", "invalid_request", "invalid request"}},
	{authdomain.ErrWeakPassword, ValidationError{"password", "invalid_password", "password too short"}},
	{authdomain.ErrInvalidUsername, ValidationError{"username", "invalid_username", "invalid value"}},
	{rbac.ErrInvalidName, ValidationError{"name", "invalid_name", "invalid value"}},
	{auditdomain.ErrInvalidPageToken, ValidationError{"page_token", "invalid_page_token", "invalid value"}},
	{auditdomain.ErrInvalidTimeRange, ValidationError{"time_range", "invalid_time_range", "invalid value"}},
	{auditdomain.ErrInvalidAction, ValidationError{"action", "invalid_action", "invalid value"}},
}

var internalError = errorPayload{Type: "internal_error", Message: "internal server error"}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, internalError
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, validationPayload(vErr.Errors...)
	}
	for _, fe := range fieldErrors {
		if errors.Is(err, fe.err) {
			return http.StatusBadRequest, validationPayload(fe.ValidationError)
		}
	}

	for _, class := range errorClasses {
		for _, target := range class.errs {
			if errors.Is(err, target) {
				return class.status, errorPayload{Type: class.typ, Message: class.message}
			}
		}
	}
	if db.IsDuplicateKeyErr(err) {
		return http.StatusConflict, errorPayload{Type: "conflict", Message: "conflict"}
	}
	return http.StatusInternalServerError, internalError
}

func validationPayload(errs ...ValidationError) errorPayload {
	return errorPayload{Type: "validation_error", Message: "validation error", Errors: errs}
}

// classifyErrorForLog returns the type and code fields of the request log line.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", "deadline_exceeded"
	}
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

