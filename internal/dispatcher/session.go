// Package dispatcher is the worker side of the bridge. A Session owns the
// mount registry, the loaded engine and the per-request output buffers, and
// answers each request with exactly one reply.
package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AnishMulay/sandsampler/internal/boundary"
	"github.com/AnishMulay/sandsampler/internal/communication"
	"github.com/AnishMulay/sandsampler/internal/engine"
	"github.com/AnishMulay/sandsampler/internal/file_source"
	"github.com/AnishMulay/sandsampler/internal/log_service"
	"github.com/AnishMulay/sandsampler/internal/metrics"
	"github.com/AnishMulay/sandsampler/internal/mount_registry"
	"github.com/AnishMulay/sandsampler/internal/sampler"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
)

const (
	DefaultChunkCacheSize = 64
	DefaultStderrTail     = 4096
)

type Options struct {
	Namespace      mount_registry.Namespace
	Loader         engine.Loader
	Opener         *file_source.Opener
	Predicates     *boundary.Registry
	Sampler        sampler.Config
	ChunkCacheSize int
	StderrTail     int
	Metrics        *metrics.Metrics
}

type Session struct {
	id         string
	ls         log_service.LogService
	registry   *mount_registry.Registry
	loader     engine.Loader
	opener     *file_source.Opener
	predicates *boundary.Registry
	metrics    *metrics.Metrics
	stderrTail int

	// chunks maps derived chunk names to the file they were cut from.
	chunks *lru.Cache

	mu          sync.Mutex
	initialized bool
	initErr     error
	debug       bool
	engine      engine.Engine
	outputs     map[uint64]*bytes.Buffer

	execMu sync.Mutex
}

// chunkEntry ties a cached derived name to the blob mounted for it and to
// the file it was cut from.
type chunkEntry struct {
	source string
	blob   file_source.Source
}

func NewSession(opts Options, ls log_service.LogService) (*Session, error) {
	if opts.Namespace == nil {
		return nil, fmt.Errorf("%w: no namespace", ErrInitFailed)
	}
	if opts.Opener == nil {
		opts.Opener = file_source.NewOpener()
	}
	if opts.Predicates == nil {
		opts.Predicates = boundary.NewRegistry()
	}
	if opts.ChunkCacheSize <= 0 {
		opts.ChunkCacheSize = DefaultChunkCacheSize
	}
	if opts.StderrTail <= 0 {
		opts.StderrTail = DefaultStderrTail
	}

	s := &Session{
		id:         uuid.NewString(),
		ls:         ls,
		registry:   mount_registry.NewRegistry(opts.Namespace, opts.Sampler, ls),
		loader:     opts.Loader,
		opener:     opts.Opener,
		predicates: opts.Predicates,
		metrics:    opts.Metrics,
		stderrTail: opts.StderrTail,
		outputs:    make(map[uint64]*bytes.Buffer),
	}

	chunks, err := lru.NewWithEvict(opts.ChunkCacheSize, s.evictChunk)
	if err != nil {
		return nil, err
	}
	s.chunks = chunks
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Registry() *mount_registry.Registry {
	return s.registry
}

// Serve answers requests from conn one at a time until the transport closes.
// Replies therefore leave in arrival order.
func (s *Session) Serve(ctx context.Context, conn communication.WorkerConn) error {
	s.ls.Info(log_service.LogEvent{
		Message:  "Session serving",
		Metadata: map[string]any{"session": s.id},
	})

	for {
		if ctx.Err() != nil {
			return nil
		}
		req, err := conn.ReceiveRequest(ctx)
		if err != nil {
			if errors.Is(err, communication.ErrInvalidJSON) {
				s.ls.Warn(log_service.LogEvent{
					Message:  "Dropping malformed request frame",
					Metadata: map[string]any{"session": s.id, "error": err.Error()},
				})
				continue
			}
			if errors.Is(err, communication.ErrTransportClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		reply := s.Handle(ctx, req)
		if err := conn.SendReply(ctx, reply); err != nil {
			if errors.Is(err, communication.ErrTransportClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Handle runs one request to completion and builds its reply.
func (s *Session) Handle(ctx context.Context, req communication.Request) communication.Reply {
	start := time.Now()

	payload, err := communication.DecodePayload(req)
	var result any
	if err == nil {
		s.logRequest(req, payload)
		result, err = s.dispatch(ctx, req.ID, payload)
	}

	reply := s.respond(req.ID, result, err)

	status := "ok"
	if reply.Action == communication.ReplyError {
		status = string(codeFor(err))
		s.ls.Warn(log_service.LogEvent{
			Message:  "Request failed",
			Metadata: map[string]any{"session": s.id, "id": req.ID, "action": req.Action, "error": fmt.Sprint(err)},
		})
	}
	s.metrics.RecordRequest(string(req.Action), status, time.Since(start))
	return reply
}

func (s *Session) logRequest(req communication.Request, payload communication.Payload) {
	s.mu.Lock()
	debug := s.debug
	s.mu.Unlock()

	event := log_service.LogEvent{
		Message:  "Handling request",
		Metadata: map[string]any{"session": s.id, "id": req.ID, "action": req.Action},
	}
	if debug {
		event.Metadata["config"] = string(req.Config)
		s.ls.Info(event)
		return
	}
	s.ls.Debug(event)
}

func (s *Session) dispatch(ctx context.Context, id uint64, payload communication.Payload) (any, error) {
	if _, ok := payload.(communication.InitConfig); !ok {
		if err := s.ready(); err != nil {
			return nil, err
		}
	}

	switch p := payload.(type) {
	case communication.InitConfig:
		return nil, s.Init(ctx, p)
	case communication.MountConfig:
		return s.Mount(ctx, p)
	case communication.ExecArgs:
		return s.Exec(ctx, id, p)
	case communication.SampleConfig:
		return s.Sample(ctx, p)
	default:
		return nil, fmt.Errorf("%w <%s>", communication.ErrInvalidAction, payload.Action())
	}
}

func (s *Session) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initErr != nil {
		return fmt.Errorf("%w: %v", ErrInitFailed, s.initErr)
	}
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

// respond standardizes replies: errors carry a code, results are JSON.
func (s *Session) respond(id uint64, data any, err error) communication.Reply {
	if err != nil {
		return communication.ErrorReply(id, codeFor(err), err.Error())
	}

	reply, marshalErr := communication.OkReply(id, data)
	if marshalErr != nil {
		return communication.ErrorReply(id, communication.CodeInternal, "failed to marshal response: "+marshalErr.Error())
	}
	return reply
}

func codeFor(err error) communication.Code {
	var exitErr *engine.ExitError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &exitErr), errors.Is(err, ErrExecFailed):
		return communication.CodeExecFailed
	case errors.Is(err, ErrInitFailed):
		return communication.CodeInitFailed
	case errors.Is(err, ErrAlreadyInitialized):
		return communication.CodeConflict
	case errors.Is(err, ErrNotInitialized), errors.Is(err, ErrNoEngine):
		return communication.CodeUnavailable
	case errors.Is(err, mount_registry.ErrNotFound), errors.Is(err, file_source.ErrSourceNotFound):
		return communication.CodeNotFound
	case errors.Is(err, sampler.ErrNoRecordBoundary):
		return communication.CodeNoBoundary
	case errors.Is(err, communication.ErrInvalidAction),
		errors.Is(err, communication.ErrPayloadUnmarshalFailed),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrInvalidChunk),
		errors.Is(err, mount_registry.ErrInvalidName),
		errors.Is(err, mount_registry.ErrDuplicateName),
		errors.Is(err, file_source.ErrInvalidRef),
		errors.Is(err, file_source.ErrUnsupportedScheme),
		errors.Is(err, file_source.ErrInvalidRange),
		errors.Is(err, boundary.ErrUnknownPredicate):
		return communication.CodeBadRequest
	default:
		return communication.CodeInternal
	}
}

// Close releases the engine. The namespace is left to its owner.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	e := s.engine
	s.engine = nil
	s.mu.Unlock()

	s.ls.Info(log_service.LogEvent{
		Message:  "Session closed",
		Metadata: map[string]any{"session": s.id, "mounted": s.registry.Len()},
	})
	if e != nil {
		return e.Close(ctx)
	}
	return nil
}
