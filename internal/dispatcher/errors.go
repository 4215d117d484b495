package dispatcher

import "errors"

var (
	ErrNotInitialized     = errors.New("session not initialized")
	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrInitFailed         = errors.New("failed to initialize session")
	ErrNoEngine           = errors.New("session has no computation engine")
	ErrInvalidArgument    = errors.New("invalid exec argument")
	ErrInvalidChunk       = errors.New("invalid chunk range")
	ErrExecFailed         = errors.New("computation engine failed")
)
