package domain

import "errors"

var (
	// ErrInvalidAuth is returned when the server rejects the configured credentials.
	ErrInvalidAuth = errors.New("invalid authentication")

	ErrNotFound = errors.New("not found")

	// ErrSyncInProgress is returned when Sync is called while another pass is running.
	ErrSyncInProgress = errors.New("sync already in progress")
)
