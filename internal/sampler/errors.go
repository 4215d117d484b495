package sampler

import "errors"

var (
	ErrNoRecordBoundary = errors.New("no valid record boundary in probe window")
	ErrProbeFailed      = errors.New("boundary probe read failed")
	ErrInvalidConfig    = errors.New("invalid sampler configuration")
)
