package domain

import "errors"

// Error taxonomy for upload orchestration. Callers match with errors.Is; every
// layer wraps these with session/operation context rather than replacing them.
var (
	// ErrInvalidInput indicates a caller-correctable validation failure.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSessionNotFound indicates the upload session does not exist.
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrInvalidState indicates the operation is not valid for the session's current state.
	ErrInvalidState = errors.New("invalid session state")

	// ErrStateConflict indicates an optimistic-concurrency loss; retry requires
	// re-reading the current session state first.
	ErrStateConflict = errors.New("session state conflict")

	// ErrCredentialExpired indicates the temporary credential has lapsed and must
	// be replaced out-of-band before further storage operations.
	ErrCredentialExpired = errors.New("temporary credential expired")

	// ErrCompletionRejected indicates the storage backend refused finalization;
	// retryable with corrected part ETags.
	ErrCompletionRejected = errors.New("completion rejected by storage backend")

	// ErrBackendUnavailable indicates a timeout or connectivity failure talking
	// to the storage backend; retryable with backoff.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
)
