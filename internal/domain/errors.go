package domain

import "errors"

// Submission-time failures. All of these abort the submission before any
// write and surface synchronously to the caller.
var (
	// ErrInvalidToken: app_token cannot be decrypted or resolves to no
	// credential.
	ErrInvalidToken = errors.New("app_token is invalid")

	// ErrBackendMismatch: the resolved credential's platform differs from the
	// backend configured for the requested alias.
	ErrBackendMismatch = errors.New("configured backend does not match credential platform")

	// ErrValidation: malformed recipient list, missing field, batch size
	// exceeded.
	ErrValidation = errors.New("validation failed")
)

// ErrBackend wraps vendor-call failures. Caught per delivery group and
// recorded into each push record's traceback, never propagated to sibling
// groups.
var ErrBackend = errors.New("backend call failed")
