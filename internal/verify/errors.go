package verify

import "errors"

var (
	// ErrInvalidSession covers unknown, expired, and already-consumed
	// session ids alike; the client must restart from document upload.
	ErrInvalidSession = errors.New("invalid or expired session")

	// ErrProviderTimeout marks an ML provider call that exceeded its
	// per-call deadline. For live-capture stages the session is
	// already spent when this surfaces.
	ErrProviderTimeout = errors.New("provider call timed out")
)
