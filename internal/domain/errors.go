package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrUnsupportedKind = errors.New("unsupported task kind")
	ErrProviderFailure = errors.New("provider failure")
)
