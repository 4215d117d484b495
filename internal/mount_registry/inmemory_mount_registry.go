package mount_registry

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/AnishMulay/sandsampler/internal/file_source"
	"github.com/AnishMulay/sandsampler/internal/log_service"
	"github.com/AnishMulay/sandsampler/internal/sampler"

	"golang.org/x/exp/rand"
)

type Registry struct {
	ns         Namespace
	ls         log_service.LogService
	samplerCfg sampler.Config
	seeds      *rand.Rand

	mu       sync.RWMutex
	nextSlot uint64
	slots    map[uint64]*MountSlot
	files    map[string]*MountedFile
}

func NewRegistry(ns Namespace, samplerCfg sampler.Config, ls log_service.LogService) *Registry {
	samplerCfg = samplerCfg.WithDefaults()
	return &Registry{
		ns:         ns,
		ls:         ls,
		samplerCfg: samplerCfg,
		seeds:      sampler.NewRand(samplerCfg.Seed),
		slots:      make(map[uint64]*MountSlot),
		files:      make(map[string]*MountedFile),
	}
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w <%s>", ErrInvalidName, name)
	}
	return nil
}

// Mount allocates the next slot and places every source in it. The slot is
// consumed even for an empty batch, and ids are never reused.
func (r *Registry) Mount(ctx context.Context, sources []file_source.Source) (MountSlot, error) {
	seen := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		if err := validateName(src.Name()); err != nil {
			return MountSlot{}, err
		}
		if _, dup := seen[src.Name()]; dup {
			return MountSlot{}, fmt.Errorf("%w <%s>", ErrDuplicateName, src.Name())
		}
		seen[src.Name()] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSlot++
	slotID := r.nextSlot

	r.ls.Info(log_service.LogEvent{
		Message:  "Mounting files",
		Metadata: map[string]any{"slot": slotID, "count": len(sources)},
	})

	if err := r.ns.Mount(ctx, slotID, sources); err != nil {
		r.ls.Error(log_service.LogEvent{
			Message:  "Failed to mount files",
			Metadata: map[string]any{"slot": slotID, "error": err.Error()},
		})
		// Drop whatever part of the batch made it to disk.
		for _, src := range sources {
			_ = r.ns.Remove(slotID, src.Name())
		}
		return MountSlot{}, fmt.Errorf("%w: slot %d: %v", ErrMountFailed, slotID, err)
	}

	slot := &MountSlot{ID: slotID, Names: make([]string, 0, len(sources))}
	for _, src := range sources {
		if old, ok := r.files[src.Name()]; ok {
			if err := r.release(old); err != nil {
				r.ls.Warn(log_service.LogEvent{
					Message:  "Failed to remove replaced file",
					Metadata: map[string]any{"name": old.Name, "slot": old.SlotID, "error": err.Error()},
				})
			}
		}
		slot.Names = append(slot.Names, src.Name())
		r.files[src.Name()] = &MountedFile{
			Name:         src.Name(),
			SlotID:       slotID,
			Size:         src.Size(),
			Source:       src,
			Sampler:      r.newSampler(src),
			materialized: !file_source.IsDeferred(src),
		}
	}
	r.slots[slotID] = slot

	return MountSlot{ID: slot.ID, Names: append([]string(nil), slot.Names...)}, nil
}

// newSampler picks the sampling mode for src. Gzip streams cannot be entered
// at a random offset, so they are read as growing prefixes.
func (r *Registry) newSampler(src file_source.Source) *sampler.Sampler {
	if file_source.IsGzip(src.Name()) {
		return sampler.NewPrefix(src.Size(), r.samplerCfg)
	}
	return sampler.New(src.Size(), r.samplerCfg, sampler.NewRand(r.seeds.Uint64()|1))
}

func (r *Registry) Lookup(name string) (*MountedFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: <%s> needs to be mounted first", ErrNotFound, name)
	}
	return f, nil
}

func VirtualPath(slot uint64, name string) string {
	return path.Join(DataRoot, strconv.FormatUint(slot, 10), name)
}

func (r *Registry) VirtualPath(name string) (string, error) {
	f, err := r.Lookup(name)
	if err != nil {
		return "", err
	}
	return VirtualPath(f.SlotID, f.Name), nil
}

// Resolve returns the virtual path of name, materializing deferred sources
// on first use.
func (r *Registry) Resolve(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[name]
	if !ok {
		return "", fmt.Errorf("%w: <%s> needs to be mounted first", ErrNotFound, name)
	}
	if !f.materialized {
		r.ls.Info(log_service.LogEvent{
			Message:  "Materializing deferred file",
			Metadata: map[string]any{"name": name, "slot": f.SlotID, "size": f.Size},
		})
		if err := r.ns.Materialize(ctx, f.SlotID, f.Source); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMaterializeFile, err)
		}
		f.materialized = true
	}
	return VirtualPath(f.SlotID, f.Name), nil
}

func (r *Registry) Unmount(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[name]
	if !ok {
		return fmt.Errorf("%w: <%s>", ErrNotFound, name)
	}
	delete(r.files, name)
	return r.release(f)
}

// release takes f out of its slot and off the disk. Callers hold mu.
func (r *Registry) release(f *MountedFile) error {
	if slot, ok := r.slots[f.SlotID]; ok {
		names := slot.Names[:0]
		for _, n := range slot.Names {
			if n != f.Name {
				names = append(names, n)
			}
		}
		slot.Names = names
	}

	if f.materialized {
		return r.ns.Remove(f.SlotID, f.Name)
	}
	return nil
}

// HostPath maps a virtual path under DataRoot onto the host namespace.
func (r *Registry) HostPath(virtual string) (string, bool) {
	rel, ok := strings.CutPrefix(path.Clean(virtual), DataRoot+"/")
	if !ok {
		return "", false
	}
	return filepath.Join(r.ns.Root(), filepath.FromSlash(rel)), true
}

func (r *Registry) Root() string {
	return r.ns.Root()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.files))
	for n := range r.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Slot(id uint64) (MountSlot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[id]
	if !ok {
		return MountSlot{}, false
	}
	return MountSlot{ID: s.ID, Names: append([]string(nil), s.Names...)}, true
}
