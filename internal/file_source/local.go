package file_source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalFile is a host file mounted by reference; it is never copied.
type LocalFile struct {
	name string
	path string
	size int64
}

func OpenLocal(name, path string) (*LocalFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceNotFound, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrSourceNotFound, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrSourceNotFound, path)
	}
	if name == "" {
		name = filepath.Base(abs)
	}
	return &LocalFile{name: name, path: abs, size: info.Size()}, nil
}

func (f *LocalFile) Name() string { return f.name }
func (f *LocalFile) Size() int64  { return f.size }
func (f *LocalFile) Path() string { return f.path }

func (f *LocalFile) ReadRange(ctx context.Context, start, end int64) ([]byte, error) {
	if err := CheckRange(f.size, start, end); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	defer file.Close()

	buf := make([]byte, end-start)
	n, err := file.ReadAt(buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	return buf[:n], nil
}

// Materialize hard-links the file into place, falling back to a symlink
// across devices.
func (f *LocalFile) Materialize(_ context.Context, hostPath string) error {
	if err := os.MkdirAll(filepath.Dir(hostPath), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrMaterializeFailed, err)
	}
	if err := os.Link(f.path, hostPath); err == nil {
		return nil
	}
	if err := os.Symlink(f.path, hostPath); err != nil {
		return fmt.Errorf("%w: %v", ErrMaterializeFailed, err)
	}
	return nil
}
