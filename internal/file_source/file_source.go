package file_source

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/AnishMulay/sandsampler/internal/communication"
)

// Source is a mountable file: something with a size that serves byte ranges
// and can be placed on the host filesystem for the engine.
type Source interface {
	Name() string
	Size() int64
	ReadRange(ctx context.Context, start, end int64) ([]byte, error)
	Materialize(ctx context.Context, hostPath string) error
}

// RemoteOpener opens a source behind a URI such as s3://bucket/key.
type RemoteOpener func(ctx context.Context, name string, u *url.URL) (Source, error)

type Opener struct {
	mu      sync.RWMutex
	schemes map[string]RemoteOpener
}

func NewOpener() *Opener {
	return &Opener{schemes: make(map[string]RemoteOpener)}
}

func (o *Opener) RegisterScheme(scheme string, fn RemoteOpener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.schemes[scheme] = fn
}

func (o *Opener) Open(ctx context.Context, ref communication.FileRef) (Source, error) {
	switch {
	case ref.Path != "" && ref.URI == "":
		return OpenLocal(ref.Name, ref.Path)
	case ref.URI != "" && ref.Path == "":
		u, err := url.Parse(ref.URI)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRef, err)
		}
		o.mu.RLock()
		fn, ok := o.schemes[u.Scheme]
		o.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w <%s>", ErrUnsupportedScheme, u.Scheme)
		}
		return fn(ctx, ref.Name, u)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidRef, ref.Name)
	}
}

func CheckRange(size, start, end int64) error {
	if start < 0 || start > end || end > size {
		return fmt.Errorf("%w: [%d, %d) of %d bytes", ErrInvalidRange, start, end, size)
	}
	return nil
}

// IsDeferred reports whether src asks to be materialized only on first use.
func IsDeferred(src Source) bool {
	d, ok := src.(interface{ Deferred() bool })
	return ok && d.Deferred()
}
