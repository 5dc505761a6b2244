package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConfig           = errors.New("configuration error")
	ErrAuth             = errors.New("authentication error")
	ErrTokenExpired     = errors.New("access token expired")
	ErrMetadata         = errors.New("metadata error")
	ErrSchema           = errors.New("schema validation failed")
	ErrPKResolution     = errors.New("primary key resolution failed")
	ErrUnsafeIdentifier = errors.New("unsafe identifier")
)
