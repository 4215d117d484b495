package mount_registry_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AnishMulay/sandsampler/internal/file_source"
	"github.com/AnishMulay/sandsampler/internal/log_service/zaplog"
	"github.com/AnishMulay/sandsampler/internal/mount_registry"
	"github.com/AnishMulay/sandsampler/internal/mount_registry/localdisc"
	"github.com/AnishMulay/sandsampler/internal/sampler"
)

func newRegistry(t *testing.T) (*mount_registry.Registry, string) {
	t.Helper()
	dir := t.TempDir()
	ns, err := localdisc.NewLocalDiscNamespace(dir, zaplog.NewNop())
	if err != nil {
		t.Fatalf("NewLocalDiscNamespace() error = %v", err)
	}
	return mount_registry.NewRegistry(ns, sampler.DefaultConfig(), zaplog.NewNop()), ns.Root()
}

func TestRegistry_SlotsIncrease(t *testing.T) {
	r, root := newRegistry(t)
	ctx := context.Background()

	first, err := r.Mount(ctx, nil)
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	second, err := r.Mount(ctx, []file_source.Source{file_source.NewBlob("a.fq", []byte("@r\nA\n+\nI\n"))})
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	third, err := r.Mount(ctx, []file_source.Source{
		file_source.NewBlob("b.fq", []byte("x")),
		file_source.NewBlob("c.fq", []byte("y")),
	})
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	if first.ID != 1 || second.ID != 2 || third.ID != 3 {
		t.Errorf("slot ids = %d, %d, %d, want 1, 2, 3", first.ID, second.ID, third.ID)
	}
	if _, err := os.Stat(filepath.Join(root, "1")); err != nil {
		t.Errorf("empty slot directory missing: %v", err)
	}

	path, err := r.VirtualPath("c.fq")
	if err != nil || path != "/data/3/c.fq" {
		t.Errorf("VirtualPath(c.fq) = %q, %v", path, err)
	}
}

func TestRegistry_RemountRecreatesSampler(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	if _, err := r.Mount(ctx, []file_source.Source{file_source.NewBlob("x.fq", []byte("old"))}); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	before, _ := r.Lookup("x.fq")
	if _, err := before.Sampler.NextRegion(ctx, before.Source, nil); err != nil {
		t.Fatalf("NextRegion() error = %v", err)
	}

	if _, err := r.Mount(ctx, []file_source.Source{file_source.NewBlob("x.fq", []byte("newer"))}); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	after, _ := r.Lookup("x.fq")

	if after.SlotID != 2 || after.Size != 5 {
		t.Errorf("remounted file = slot %d size %d, want slot 2 size 5", after.SlotID, after.Size)
	}
	if after.Sampler == before.Sampler || len(after.Sampler.Visited()) != 0 {
		t.Error("remount did not create a fresh sampler")
	}
}

func TestRegistry_RemountLeavesOldSlot(t *testing.T) {
	r, root := newRegistry(t)
	ctx := context.Background()

	if _, err := r.Mount(ctx, []file_source.Source{
		file_source.NewBlob("x.fq", []byte("old")),
		file_source.NewBlob("y.fq", []byte("keep")),
	}); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	if _, err := r.Mount(ctx, []file_source.Source{file_source.NewBlob("x.fq", []byte("newer"))}); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	old, _ := r.Slot(1)
	if len(old.Names) != 1 || old.Names[0] != "y.fq" {
		t.Errorf("old slot names = %v, want [y.fq]", old.Names)
	}
	if _, err := os.Stat(filepath.Join(root, "1", "x.fq")); !os.IsNotExist(err) {
		t.Errorf("replaced file still on disk: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "2", "x.fq"))
	if err != nil || string(data) != "newer" {
		t.Errorf("remounted file = %q, %v", data, err)
	}
}

// brokenSource fails to materialize.
type brokenSource struct {
	*file_source.Blob
}

func (brokenSource) Materialize(context.Context, string) error {
	return errors.New("disk full")
}

func TestRegistry_FailedMountCleansUp(t *testing.T) {
	r, root := newRegistry(t)
	ctx := context.Background()

	_, err := r.Mount(ctx, []file_source.Source{
		file_source.NewBlob("good.fq", []byte("abc")),
		brokenSource{file_source.NewBlob("bad.fq", []byte("xyz"))},
	})
	if !errors.Is(err, mount_registry.ErrMountFailed) {
		t.Fatalf("Mount() error = %v, wantErr %v", err, mount_registry.ErrMountFailed)
	}

	if _, err := os.Stat(filepath.Join(root, "1", "good.fq")); !os.IsNotExist(err) {
		t.Errorf("partially mounted file left on disk: %v", err)
	}
	if _, err := r.Lookup("good.fq"); !errors.Is(err, mount_registry.ErrNotFound) {
		t.Errorf("Lookup() error = %v, wantErr %v", err, mount_registry.ErrNotFound)
	}
	if _, ok := r.Slot(1); ok {
		t.Error("failed slot was registered")
	}

	next, err := r.Mount(ctx, nil)
	if err != nil || next.ID != 2 {
		t.Errorf("Mount() after failure = slot %d, %v, want slot 2", next.ID, err)
	}
}

func TestRegistry_Errors(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		sources []file_source.Source
		wantErr error
	}{
		{name: "path traversal", sources: []file_source.Source{file_source.NewBlob("../etc", nil)}, wantErr: mount_registry.ErrInvalidName},
		{name: "nested name", sources: []file_source.Source{file_source.NewBlob("a/b", nil)}, wantErr: mount_registry.ErrInvalidName},
		{name: "empty name", sources: []file_source.Source{file_source.NewBlob("", nil)}, wantErr: mount_registry.ErrInvalidName},
		{
			name: "duplicate in batch",
			sources: []file_source.Source{
				file_source.NewBlob("a", nil),
				file_source.NewBlob("a", nil),
			},
			wantErr: mount_registry.ErrDuplicateName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Mount(ctx, tt.sources); !errors.Is(err, tt.wantErr) {
				t.Errorf("Mount() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if _, err := r.Lookup("missing.fq"); !errors.Is(err, mount_registry.ErrNotFound) {
		t.Errorf("Lookup() error = %v, wantErr %v", err, mount_registry.ErrNotFound)
	}
	if _, err := r.Resolve(ctx, "missing.fq"); !errors.Is(err, mount_registry.ErrNotFound) {
		t.Errorf("Resolve() error = %v, wantErr %v", err, mount_registry.ErrNotFound)
	}
}

// deferredBlob is materialized only when first resolved.
type deferredBlob struct {
	*file_source.Blob
	materialized int
}

func (d *deferredBlob) Deferred() bool { return true }

func (d *deferredBlob) Materialize(ctx context.Context, hostPath string) error {
	d.materialized++
	return d.Blob.Materialize(ctx, hostPath)
}

func TestRegistry_ResolveMaterializesDeferred(t *testing.T) {
	r, root := newRegistry(t)
	ctx := context.Background()
	src := &deferredBlob{Blob: file_source.NewBlob("remote.fq", []byte("abc"))}

	if _, err := r.Mount(ctx, []file_source.Source{src}); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	if src.materialized != 0 {
		t.Fatalf("deferred source materialized at mount time")
	}

	for i := 0; i < 2; i++ {
		path, err := r.Resolve(ctx, "remote.fq")
		if err != nil || path != "/data/1/remote.fq" {
			t.Fatalf("Resolve() = %q, %v", path, err)
		}
	}
	if src.materialized != 1 {
		t.Errorf("materialized %d times, want 1", src.materialized)
	}
	if _, err := os.Stat(filepath.Join(root, "1", "remote.fq")); err != nil {
		t.Errorf("materialized file missing: %v", err)
	}
}

func TestRegistry_UnmountAndHostPath(t *testing.T) {
	r, root := newRegistry(t)
	ctx := context.Background()

	if _, err := r.Mount(ctx, []file_source.Source{file_source.NewBlob("s.fq", []byte("abc"))}); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	host, ok := r.HostPath("/data/1/s.fq")
	if !ok || host != filepath.Join(root, "1", "s.fq") {
		t.Errorf("HostPath() = %q, %v", host, ok)
	}
	if _, ok := r.HostPath("/etc/passwd"); ok {
		t.Error("HostPath() accepted a path outside /data")
	}

	if err := r.Unmount("s.fq"); err != nil {
		t.Fatalf("Unmount() error = %v", err)
	}
	if _, err := os.Stat(host); !os.IsNotExist(err) {
		t.Errorf("file still on disk after Unmount: %v", err)
	}
	if slot, _ := r.Slot(1); len(slot.Names) != 0 {
		t.Errorf("slot names after Unmount = %v", slot.Names)
	}
	if err := r.Unmount("s.fq"); !errors.Is(err, mount_registry.ErrNotFound) {
		t.Errorf("second Unmount() error = %v", err)
	}
}
