package clients

import "errors"

var (
	// ErrNotFound is returned when the backend has no content for a CID
	ErrNotFound = errors.New("content not found")

	// ErrBackendUnavailable wraps transport failures and unexpected backend responses
	ErrBackendUnavailable = errors.New("content backend unavailable")
)
