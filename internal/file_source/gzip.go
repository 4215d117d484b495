package file_source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const GzipSuffix = ".gz"

// IsGzip reports whether name looks like a gzip file.
func IsGzip(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), GzipSuffix)
}

// Inflate decompresses a gzip stream that may be cut short. A truncated
// stream yields the text decoded so far, trimmed to its last full line.
func Inflate(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptGzip, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		if i := bytes.LastIndexByte(out, '\n'); i >= 0 {
			return out[:i+1], nil
		}
		return nil, fmt.Errorf("%w: no complete line in %d compressed bytes", ErrCorruptGzip, len(data))
	default:
		return nil, fmt.Errorf("%w: %v", ErrCorruptGzip, err)
	}
}
