package localdisc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/AnishMulay/sandsampler/internal/file_source"
	"github.com/AnishMulay/sandsampler/internal/log_service"
	"github.com/AnishMulay/sandsampler/internal/mount_registry"
)

// LocalDiscNamespace backs the virtual /data tree with a host directory:
// /data/<slot>/<name> lives at <baseDir>/<slot>/<name>.
type LocalDiscNamespace struct {
	baseDir string
	ls      log_service.LogService
}

func NewLocalDiscNamespace(baseDir string, ls log_service.LogService) (*LocalDiscNamespace, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create namespace root: %w", err)
	}
	return &LocalDiscNamespace{
		baseDir: abs,
		ls:      ls,
	}, nil
}

func (ns *LocalDiscNamespace) Root() string {
	return ns.baseDir
}

func (ns *LocalDiscNamespace) slotDir(slot uint64) string {
	return filepath.Join(ns.baseDir, strconv.FormatUint(slot, 10))
}

func (ns *LocalDiscNamespace) HostPath(slot uint64, name string) string {
	return filepath.Join(ns.slotDir(slot), name)
}

func (ns *LocalDiscNamespace) Mount(ctx context.Context, slot uint64, sources []file_source.Source) error {
	dir := ns.slotDir(slot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		ns.ls.Error(log_service.LogEvent{
			Message:  "Failed to create slot directory",
			Metadata: map[string]any{"slot": slot, "error": err.Error()},
		})
		return err
	}

	for _, src := range sources {
		if file_source.IsDeferred(src) {
			ns.ls.Debug(log_service.LogEvent{
				Message:  "Deferring materialization",
				Metadata: map[string]any{"slot": slot, "name": src.Name()},
			})
			continue
		}
		if err := ns.Materialize(ctx, slot, src); err != nil {
			return err
		}
	}
	return nil
}

func (ns *LocalDiscNamespace) Materialize(ctx context.Context, slot uint64, src file_source.Source) error {
	ns.ls.Debug(log_service.LogEvent{
		Message:  "Materializing file",
		Metadata: map[string]any{"slot": slot, "name": src.Name(), "size": src.Size()},
	})

	path := ns.HostPath(slot, src.Name())
	if err := src.Materialize(ctx, path); err != nil {
		ns.ls.Error(log_service.LogEvent{
			Message:  "Failed to materialize file",
			Metadata: map[string]any{"slot": slot, "name": src.Name(), "error": err.Error()},
		})
		return err
	}
	return nil
}

// Remove deletes a file and drops its slot directory once empty.
func (ns *LocalDiscNamespace) Remove(slot uint64, name string) error {
	path := ns.HostPath(slot, name)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		ns.ls.Error(log_service.LogEvent{
			Message:  "Failed to remove file",
			Metadata: map[string]any{"slot": slot, "name": name, "error": err.Error()},
		})
		return err
	}

	if entries, err := os.ReadDir(ns.slotDir(slot)); err == nil && len(entries) == 0 {
		_ = os.Remove(ns.slotDir(slot))
	}
	return nil
}

var _ mount_registry.Namespace = (*LocalDiscNamespace)(nil)
