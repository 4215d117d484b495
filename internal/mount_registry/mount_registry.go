package mount_registry

import (
	"context"

	"github.com/AnishMulay/sandsampler/internal/file_source"
	"github.com/AnishMulay/sandsampler/internal/sampler"
)

// DataRoot is the virtual directory every slot lives under.
const DataRoot = "/data"

type MountSlot struct {
	ID    uint64
	Names []string
}

type MountedFile struct {
	Name    string
	SlotID  uint64
	Size    int64
	Source  file_source.Source
	Sampler *sampler.Sampler

	materialized bool
}

// Namespace is the host side of the virtual tree: slot directories holding
// materialized files.
type Namespace interface {
	Mount(ctx context.Context, slot uint64, sources []file_source.Source) error
	Materialize(ctx context.Context, slot uint64, src file_source.Source) error
	Remove(slot uint64, name string) error
	HostPath(slot uint64, name string) string
	Root() string
}
