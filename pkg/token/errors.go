package token

import "errors"

var (
	// ErrBadToken is returned for malformed tokens and tag mismatches
	ErrBadToken = errors.New("bad token")

	// ErrTokenExpired is returned when a correctly signed token is past its expiry
	ErrTokenExpired = errors.New("token expired")

	// ErrServerMisconfig is returned when the signing secret is missing or too short
	ErrServerMisconfig = errors.New("token secret is not configured")
)
