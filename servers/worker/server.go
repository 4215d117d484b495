package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/AnishMulay/sandsampler/internal/boundary"
	"github.com/AnishMulay/sandsampler/internal/bridge"
	"github.com/AnishMulay/sandsampler/internal/communication"
	grpccomm "github.com/AnishMulay/sandsampler/internal/communication/grpc"
	"github.com/AnishMulay/sandsampler/internal/communication/inproc"
	"github.com/AnishMulay/sandsampler/internal/config"
	"github.com/AnishMulay/sandsampler/internal/dispatcher"
	"github.com/AnishMulay/sandsampler/internal/engine"
	"github.com/AnishMulay/sandsampler/internal/engine/process"
	"github.com/AnishMulay/sandsampler/internal/engine/wasm"
	"github.com/AnishMulay/sandsampler/internal/file_source"
	"github.com/AnishMulay/sandsampler/internal/file_source/s3source"
	"github.com/AnishMulay/sandsampler/internal/log_service"
	"github.com/AnishMulay/sandsampler/internal/metrics"
	"github.com/AnishMulay/sandsampler/internal/mount_registry/localdisc"

	"github.com/google/uuid"
)

type Options struct {
	NodeID string
	Config *config.Config
	Log    log_service.LogService
}

type runnable interface {
	Run() error
}

// SessionFactory builds one dispatcher session per controller, each with its
// own namespace directory under the data dir.
type SessionFactory struct {
	cfg        *config.Config
	ls         log_service.LogService
	loader     engine.Loader
	opener     *file_source.Opener
	predicates *boundary.Registry
	metrics    *metrics.Metrics
}

func NewSessionFactory(ctx context.Context, cfg *config.Config, ls log_service.LogService, m *metrics.Metrics) (*SessionFactory, error) {
	loader, err := NewLoader(cfg, ls)
	if err != nil {
		return nil, err
	}

	opener := file_source.NewOpener()
	if cfg.S3Enabled() {
		client, err := s3source.NewClient(ctx, cfg.S3, ls)
		if err != nil {
			return nil, err
		}
		opener.RegisterScheme("s3", client.Open)
	}

	return &SessionFactory{
		cfg:        cfg,
		ls:         ls,
		loader:     loader,
		opener:     opener,
		predicates: boundary.NewRegistry(),
		metrics:    m,
	}, nil
}

func NewLoader(cfg *config.Config, ls log_service.LogService) (engine.Loader, error) {
	switch cfg.Worker.Engine.Kind {
	case config.EngineWasm:
		return wasm.NewLoader(cfg.Worker.Engine.ModuleDir, ls), nil
	case config.EngineProcess:
		return process.NewLoader(cfg.Worker.Engine.ModuleDir, ls), nil
	default:
		return nil, fmt.Errorf("%w <%s>", engine.ErrUnknownKind, cfg.Worker.Engine.Kind)
	}
}

// Serve runs a fresh session on conn and removes its files afterwards.
func (f *SessionFactory) Serve(ctx context.Context, conn communication.WorkerConn) error {
	dir := filepath.Join(f.cfg.Worker.DataDir, uuid.NewString())
	defer os.RemoveAll(dir)

	ns, err := localdisc.NewLocalDiscNamespace(dir, f.ls)
	if err != nil {
		return err
	}

	session, err := dispatcher.NewSession(dispatcher.Options{
		Namespace:      ns,
		Loader:         f.loader,
		Opener:         f.opener,
		Predicates:     f.predicates,
		Sampler:        f.cfg.Sampler,
		ChunkCacheSize: f.cfg.ChunkCacheSize,
		Metrics:        f.metrics,
	}, f.ls)
	if err != nil {
		return err
	}
	defer session.Close(context.Background())

	return session.Serve(ctx, conn)
}

type workerServer struct {
	comm       *grpccomm.GRPCCommunicator
	factory    *SessionFactory
	metricsSrv *http.Server
	ls         log_service.LogService
}

func (s *workerServer) Run() error {
	if s.metricsSrv != nil {
		go func() {
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.ls.Error(log_service.LogEvent{
					Message:  "Metrics server error",
					Metadata: map[string]any{"addr": s.metricsSrv.Addr, "error": err.Error()},
				})
			}
		}()
	}

	if err := s.comm.Start(s.factory.Serve); err != nil {
		return err
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.metricsSrv.Shutdown(ctx)
	}
	return s.comm.Stop()
}

func Build(opts Options) (runnable, error) {
	cfg := opts.Config
	ls := opts.Log

	m := metrics.New()
	factory, err := NewSessionFactory(context.Background(), cfg, ls, m)
	if err != nil {
		return nil, err
	}

	srv := &workerServer{
		comm:    grpccomm.NewGRPCCommunicator(cfg.Worker.Listen, ls),
		factory: factory,
		ls:      ls,
	}
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv.metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	}

	ls.Info(log_service.LogEvent{
		Message:  "Worker built",
		Metadata: map[string]any{"node": opts.NodeID, "listen": cfg.Worker.Listen, "engine": cfg.Worker.Engine.Kind},
	})
	return srv, nil
}

// Local runs a session in-process behind a pipe and returns a started bridge
// to it. stop closes both ends.
func Local(ctx context.Context, cfg *config.Config, ls log_service.LogService) (b *bridge.Bridge, stop func(), err error) {
	factory, err := NewSessionFactory(ctx, cfg, ls, nil)
	if err != nil {
		return nil, nil, err
	}

	controllerEnd, workerEnd := inproc.NewPipe(16)
	served := make(chan struct{})
	go func() {
		defer close(served)
		// The bridge only learns the session is gone when the pipe closes.
		defer workerEnd.Close()
		if err := factory.Serve(ctx, workerEnd); err != nil {
			ls.Error(log_service.LogEvent{
				Message:  "Local session failed",
				Metadata: map[string]any{"error": err.Error()},
			})
		}
	}()

	b = bridge.New(controllerEnd, ls, nil)
	b.Start()
	return b, func() {
		b.Stop()
		<-served
	}, nil
}

// Remote dials a worker and returns a started bridge to it.
func Remote(ctx context.Context, addr string, ls log_service.LogService) (*bridge.Bridge, error) {
	conn, err := grpccomm.Dial(ctx, addr, ls)
	if err != nil {
		return nil, err
	}
	b := bridge.New(conn, ls, nil)
	b.Start()
	return b, nil
}
