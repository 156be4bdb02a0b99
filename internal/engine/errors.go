// internal/engine/errors.go
package engine

import "errors"

// Errors that abort a run before any item is processed
var (
	ErrNoCredentials = errors.New("no credentials configured")
	ErrNilRunner     = errors.New("runner is not initialized")
	ErrRunInProgress = errors.New("another run is already in progress")
)
