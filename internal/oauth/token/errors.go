package token

import "errors"

var (
	ErrInvalidGrant       = errors.New("invalid_grant")
	ErrInvalidScope       = errors.New("invalid_scope")
	ErrUnauthorizedClient = errors.New("unauthorized_client")

	// ErrInactive is the single answer for any token that does not validate.
	ErrInactive = errors.New("token inactive")

	errRefreshNotFound = errors.New("refresh token not found")
)
