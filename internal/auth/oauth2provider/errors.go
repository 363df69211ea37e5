package oauth2provider

import (
	"errors"
	"net/http"

	"github.com/smallbiznis/gatekeeper/internal/oauth/client"
	"github.com/smallbiznis/gatekeeper/internal/oauth/code"
	"github.com/smallbiznis/gatekeeper/internal/oauth/token"
)

var (
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrInvalidClient           = client.ErrInvalidClient
	ErrInvalidRedirectURI      = errors.New("invalid_redirect_uri")
	ErrUnsupportedGrantType    = errors.New("unsupported_grant_type")
	ErrUnsupportedResponseType = errors.New("unsupported_response_type")
	ErrUnauthorizedClient      = errors.New("unauthorized_client")
	ErrInvalidScope            = errors.New("invalid_scope")
	ErrInvalidGrant            = errors.New("invalid_grant")
	ErrConsentRequired         = errors.New("consent_required")
	ErrInsufficientScope       = errors.New("insufficient_scope")
	ErrInvalidToken            = errors.New("invalid_token")
)

// mapOAuthErrorCode maps domain errors to RFC 6749 error codes. Anything
// unrecognised is a server error and carries no detail.
func mapOAuthErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidClient):
		return "invalid_client"
	case errors.Is(err, ErrInvalidGrant),
		errors.Is(err, code.ErrInvalidGrant),
		errors.Is(err, token.ErrInvalidGrant):
		return "invalid_grant"
	case errors.Is(err, ErrInvalidScope),
		errors.Is(err, code.ErrInvalidScope),
		errors.Is(err, token.ErrInvalidScope):
		return "invalid_scope"
	case errors.Is(err, ErrUnauthorizedClient),
		errors.Is(err, code.ErrUnauthorizedClient),
		errors.Is(err, token.ErrUnauthorizedClient):
		return "unauthorized_client"
	case errors.Is(err, ErrUnsupportedGrantType):
		return "unsupported_grant_type"
	case errors.Is(err, ErrUnsupportedResponseType):
		return "unsupported_response_type"
	case errors.Is(err, ErrInvalidRedirectURI),
		errors.Is(err, code.ErrInvalidRedirectURI),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, code.ErrInvalidRequest),
		errors.Is(err, client.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrConsentRequired):
		return "consent_required"
	case errors.Is(err, ErrInsufficientScope):
		return "insufficient_scope"
	case errors.Is(err, ErrInvalidToken), errors.Is(err, token.ErrInactive):
		return "invalid_token"
	default:
		return "server_error"
	}
}

func mapOAuthErrorStatus(err error) int {
	switch mapOAuthErrorCode(err) {
	case "invalid_client", "invalid_token":
		return http.StatusUnauthorized
	case "insufficient_scope":
		return http.StatusForbidden
	case "server_error":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
