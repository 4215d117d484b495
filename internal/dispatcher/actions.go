package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AnishMulay/sandsampler/internal/communication"
	"github.com/AnishMulay/sandsampler/internal/engine"
	"github.com/AnishMulay/sandsampler/internal/file_source"
	"github.com/AnishMulay/sandsampler/internal/log_service"
	"github.com/AnishMulay/sandsampler/internal/mount_registry"
	"github.com/AnishMulay/sandsampler/internal/sampler"
	"github.com/AnishMulay/sandsampler/internal/tabular"
)

// Init loads the engine and its assets. It succeeds at most once per
// session; a failed Init leaves the session unusable.
func (s *Session) Init(ctx context.Context, cfg communication.InitConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return ErrAlreadyInitialized
	}
	if s.initErr != nil {
		return fmt.Errorf("%w: %v", ErrInitFailed, s.initErr)
	}

	s.ls.Info(log_service.LogEvent{
		Message:  "Initializing session",
		Metadata: map[string]any{"session": s.id, "engine": cfg.Engine, "assets": cfg.Assets, "debug": cfg.Debug},
	})

	if cfg.Engine != "" {
		if s.loader == nil {
			s.initErr = errors.New("no engine loader configured")
			return fmt.Errorf("%w: %v", ErrInitFailed, s.initErr)
		}
		e, err := s.loader.Load(ctx, engine.Spec{
			Name:    cfg.Engine,
			Assets:  cfg.Assets,
			DataDir: s.registry.Root(),
			MapPath: s.registry.HostPath,
		})
		if err != nil {
			s.initErr = err
			s.ls.Error(log_service.LogEvent{
				Message:  "Failed to load computation engine",
				Metadata: map[string]any{"session": s.id, "engine": cfg.Engine, "error": err.Error()},
			})
			return fmt.Errorf("%w: %w", ErrInitFailed, err)
		}
		s.engine = e
	}

	s.debug = cfg.Debug
	s.initialized = true
	return nil
}

// Mount places every file and blob of cfg in a fresh slot.
func (s *Session) Mount(ctx context.Context, cfg communication.MountConfig) (communication.MountResult, error) {
	sources := make([]file_source.Source, 0, len(cfg.Files)+len(cfg.Blobs))
	for _, ref := range cfg.Files {
		src, err := s.opener.Open(ctx, ref)
		if err != nil {
			return communication.MountResult{}, err
		}
		sources = append(sources, src)
	}
	for _, b := range cfg.Blobs {
		sources = append(sources, file_source.NewBlob(b.Name, b.Data))
	}

	slot, err := s.registry.Mount(ctx, sources)
	if err != nil {
		return communication.MountResult{}, err
	}
	for _, name := range slot.Names {
		s.purgeChunksOf(name)
		// A user file mounted under a derived name shadows the cached chunk.
		s.chunks.Remove(name)
	}
	s.metrics.SetMountedFiles(s.registry.Len())

	res := communication.MountResult{Slot: slot.ID, Paths: make(map[string]string, len(slot.Names))}
	for _, name := range slot.Names {
		res.Paths[name] = mount_registry.VirtualPath(slot.ID, name)
	}
	return res, nil
}

// Exec resolves args into an argv and runs the engine on it. Output is
// collected per request id and returned as parsed rows.
func (s *Session) Exec(ctx context.Context, id uint64, args communication.ExecArgs) ([][]any, error) {
	s.mu.Lock()
	e := s.engine
	s.mu.Unlock()
	if e == nil {
		return nil, ErrNoEngine
	}

	argv, err := s.resolveArgs(ctx, args)
	if err != nil {
		return nil, err
	}

	s.execMu.Lock()
	defer s.execMu.Unlock()

	stdout := s.outputBuffer(id)
	defer s.dropOutput(id)
	stderr := &engine.TailWriter{Max: s.stderrTail}

	s.ls.Debug(log_service.LogEvent{
		Message:  "Running computation engine",
		Metadata: map[string]any{"session": s.id, "id": id, "argv": argv},
	})

	code, err := e.Run(ctx, argv, stdout, stderr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecFailed, err)
	}
	if code != 0 {
		return nil, &engine.ExitError{Code: code, Stderr: strings.TrimSpace(stderr.String())}
	}

	return tabular.Parse(stdout.String())
}

func (s *Session) outputBuffer(id uint64) *bytes.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := &bytes.Buffer{}
	s.outputs[id] = buf
	return buf
}

func (s *Session) dropOutput(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.outputs, id)
}

func (s *Session) resolveArgs(ctx context.Context, args communication.ExecArgs) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: missing entry point", ErrInvalidArgument)
	}
	if args[0].File != nil || args[0].String() == "" {
		return nil, fmt.Errorf("%w: entry point must be a non-empty literal", ErrInvalidArgument)
	}

	argv := make([]string, 0, len(args))
	argv = append(argv, args[0].String())
	for _, a := range args[1:] {
		if a.File == nil {
			argv = append(argv, a.String())
			continue
		}
		if a.File.Chunk == nil {
			p, err := s.registry.Resolve(ctx, a.File.Name)
			if err != nil {
				return nil, err
			}
			argv = append(argv, p)
			continue
		}
		p, err := s.resolveChunk(ctx, a.File.Name, *a.File.Chunk)
		if err != nil {
			return nil, err
		}
		argv = append(argv, p)
	}
	return argv, nil
}

// ChunkName is the synthetic name a byte range of name is mounted under.
func ChunkName(name string, start, end int64) string {
	return fmt.Sprintf("sampled-%d-%d-%s", start, end, name)
}

// resolveChunk mounts [start, end) of name as its own blob, reusing an
// earlier mount of the same range while it is cached.
func (s *Session) resolveChunk(ctx context.Context, name string, c communication.Chunk) (string, error) {
	f, err := s.registry.Lookup(name)
	if err != nil {
		return "", err
	}
	if err := file_source.CheckRange(f.Size, c.Start, c.End); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidChunk, err)
	}

	gz := file_source.IsGzip(name)
	if gz && c.Start != 0 {
		return "", fmt.Errorf("%w: gzip chunks must start at offset 0", ErrInvalidChunk)
	}

	derived := ChunkName(name, c.Start, c.End)
	if gz {
		// The engine sees the inflated text under the plain name.
		derived = ChunkName(name[:len(name)-len(file_source.GzipSuffix)], c.Start, c.End)
	}
	if v, ok := s.chunks.Get(derived); ok {
		if entry := v.(chunkEntry); entry.source == name && s.ownsChunk(derived, entry) {
			if p, err := s.registry.Resolve(ctx, derived); err == nil {
				s.metrics.RecordChunkLookup(true)
				return p, nil
			}
		}
		s.chunks.Remove(derived)
	}
	s.metrics.RecordChunkLookup(false)

	data, err := f.Source.ReadRange(ctx, c.Start, c.End)
	if err != nil {
		return "", err
	}
	if gz {
		if data, err = file_source.Inflate(data); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidChunk, err)
		}
	}
	blob := file_source.NewBlob(derived, data)
	slot, err := s.registry.Mount(ctx, []file_source.Source{blob})
	if err != nil {
		return "", err
	}
	s.chunks.Add(derived, chunkEntry{source: name, blob: blob})
	s.metrics.SetMountedFiles(s.registry.Len())

	s.ls.Debug(log_service.LogEvent{
		Message:  "Mounted derived chunk",
		Metadata: map[string]any{"session": s.id, "name": derived, "slot": slot.ID, "size": len(data)},
	})
	return mount_registry.VirtualPath(slot.ID, derived), nil
}

// purgeChunksOf drops cached chunks cut from an earlier mount of name.
func (s *Session) purgeChunksOf(name string) {
	for _, k := range s.chunks.Keys() {
		v, ok := s.chunks.Peek(k)
		if !ok {
			continue
		}
		if entry := v.(chunkEntry); entry.source == name {
			s.chunks.Remove(k)
		}
	}
}

// ownsChunk reports whether name is still mounted as the cached blob.
func (s *Session) ownsChunk(name string, entry chunkEntry) bool {
	f, err := s.registry.Lookup(name)
	return err == nil && f.Source == entry.blob
}

func (s *Session) evictChunk(key, value any) {
	name := key.(string)
	if !s.ownsChunk(name, value.(chunkEntry)) {
		s.ls.Debug(log_service.LogEvent{
			Message:  "Evicted chunk no longer mounted under its name",
			Metadata: map[string]any{"session": s.id, "name": name},
		})
		return
	}
	if err := s.registry.Unmount(name); err != nil {
		s.ls.Debug(log_service.LogEvent{
			Message:  "Evicted chunk was already gone",
			Metadata: map[string]any{"session": s.id, "name": name, "error": err.Error()},
		})
		return
	}
	s.metrics.SetMountedFiles(s.registry.Len())
}

// Sample asks the file's sampler for its next window.
func (s *Session) Sample(ctx context.Context, cfg communication.SampleConfig) (communication.SampleResult, error) {
	f, err := s.registry.Lookup(cfg.File.Name)
	if err != nil {
		return communication.SampleResult{}, err
	}
	pred, err := s.predicates.Get(cfg.IsValidChunk)
	if err != nil {
		return communication.SampleResult{}, err
	}

	w, err := f.Sampler.NextRegion(ctx, f.Source, pred)
	if err != nil {
		outcome := "error"
		if errors.Is(err, sampler.ErrNoRecordBoundary) {
			outcome = "no_boundary"
		}
		s.metrics.RecordSample(outcome, 0)
		return communication.SampleResult{}, err
	}

	if w.Done {
		s.metrics.RecordSample("done", 0)
	} else {
		s.metrics.RecordSample("window", w.End-w.Start)
	}
	return communication.SampleResult{
		Start:    w.Start,
		End:      w.End,
		Done:     w.Done,
		Coverage: f.Sampler.Coverage(),
	}, nil
}
