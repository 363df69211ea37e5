package client

import "errors"

var (
	ErrInvalidClient  = errors.New("invalid_client")
	ErrClientNotFound = errors.New("client_not_found")
	ErrClientExists   = errors.New("client_exists")
	ErrInvalidRequest = errors.New("invalid_request")
)
