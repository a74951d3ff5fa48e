package model

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")

	// ErrProcessLaunch reports that a child process could not be spawned. Fatal.
	ErrProcessLaunch = errors.New("process launch failure")
	// ErrServerNotReady reports that a supervised server missed its readiness deadline.
	ErrServerNotReady = errors.New("server did not become ready")
	// ErrServerUnavailable is returned by callers that require a Ready server and found none.
	ErrServerUnavailable = errors.New("server unavailable")

	ErrCaptureTimeout    = errors.New("capture timed out")
	ErrExtractionTimeout = errors.New("extraction timed out")
	ErrMalformedResponse = errors.New("malformed model response")
	ErrEmbeddingFailed   = errors.New("embedding failed")
	ErrMissingEmbedding  = errors.New("fragment has no embedding")
	ErrStoreRejected     = errors.New("store rejected write")
)
