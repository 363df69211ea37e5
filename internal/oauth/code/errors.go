package code

import "errors"

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrInvalidRedirectURI = errors.New("invalid_redirect_uri")
	ErrInvalidScope       = errors.New("invalid_scope")
	ErrUnauthorizedClient = errors.New("unauthorized_client")

	// ErrInvalidGrant is returned for every failed exchange. The concrete
	// reason is logged and never surfaced.
	ErrInvalidGrant = errors.New("invalid_grant")

	errCodeNotFound = errors.New("authorization code not found")
)
