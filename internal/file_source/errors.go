package file_source

import "errors"

var (
	ErrInvalidRef        = errors.New("file reference needs exactly one of path or uri")
	ErrUnsupportedScheme = errors.New("unsupported file uri scheme")
	ErrSourceNotFound    = errors.New("file source not found")
	ErrInvalidRange      = errors.New("byte range outside file")
	ErrReadFailed        = errors.New("failed to read file range")
	ErrMaterializeFailed = errors.New("failed to materialize file")
	ErrCorruptGzip       = errors.New("unsupported or corrupt gzip data")
)
