package file_source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Blob is an in-memory file shipped inside a mount request, or a slice
// cut from another source.
type Blob struct {
	name string
	data []byte
}

func NewBlob(name string, data []byte) *Blob {
	return &Blob{name: name, data: data}
}

func (b *Blob) Name() string { return b.name }
func (b *Blob) Size() int64  { return int64(len(b.data)) }

func (b *Blob) ReadRange(_ context.Context, start, end int64) ([]byte, error) {
	if err := CheckRange(b.Size(), start, end); err != nil {
		return nil, err
	}
	return b.data[start:end], nil
}

func (b *Blob) Materialize(_ context.Context, hostPath string) error {
	if err := os.MkdirAll(filepath.Dir(hostPath), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrMaterializeFailed, err)
	}
	if err := os.WriteFile(hostPath, b.data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrMaterializeFailed, err)
	}
	return nil
}
