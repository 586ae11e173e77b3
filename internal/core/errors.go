package core

import (
	"errors"

	"gwi.com/classroom-messaging/internal/ratelimit"
)

// Every error returned by the gateway wraps exactly one of these; the HTTP layer maps them to status codes.
var (
	ErrBadRequest            = errors.New("bad request")
	ErrContentRejected       = errors.New("content rejected by moderation")
	ErrRateLimitExceeded     = ratelimit.ErrRateLimitExceeded
	ErrUnknownModelVariant   = errors.New("unknown model variant")
	ErrProviderNotConfigured = errors.New("provider not configured")
	ErrProviderCallFailure   = errors.New("provider call failed")
	ErrPersistenceFailure    = errors.New("persistence failure")
)
