package engine

import "errors"

var (
	ErrEngineNotFound = errors.New("computation engine not found")
	ErrAssetNotFound  = errors.New("engine asset not found")
	ErrLoadFailed     = errors.New("failed to load computation engine")
	ErrUnknownKind    = errors.New("unknown engine kind")
	ErrEmptyArgv      = errors.New("empty argument vector")
)
