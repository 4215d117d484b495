package wasm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/AnishMulay/sandsampler/internal/engine"
	"github.com/AnishMulay/sandsampler/internal/log_service"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

const (
	GuestDataRoot   = "/data"
	GuestAssetsRoot = "/assets"
)

// Loader compiles <moduleDir>/<name>.wasm once per session.
type Loader struct {
	moduleDir string
	ls        log_service.LogService
}

func NewLoader(moduleDir string, ls log_service.LogService) *Loader {
	return &Loader{moduleDir: moduleDir, ls: ls}
}

func (l *Loader) Load(ctx context.Context, spec engine.Spec) (engine.Engine, error) {
	path := filepath.Join(l.moduleDir, spec.Name+".wasm")
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrEngineNotFound, path)
	}
	if err := engine.CheckAssets(l.moduleDir, spec.Assets); err != nil {
		return nil, err
	}
	return NewEngine(ctx, spec.Name, bin, spec.DataDir, l.moduleDir, len(spec.Assets) > 0, l.ls)
}

type Engine struct {
	name      string
	runtime   wazero.Runtime
	compiled  wazero.CompiledModule
	dataDir   string
	assetsDir string
	ls        log_service.LogService
}

// NewEngine compiles bin. The guest sees dataDir at /data and, when
// withAssets is set, assetsDir read-only at /assets.
func NewEngine(ctx context.Context, name string, bin []byte, dataDir, assetsDir string, withAssets bool, ls log_service.LogService) (*Engine, error) {
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("%w: %v", engine.ErrLoadFailed, err)
	}

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("%w: compile %s: %v", engine.ErrLoadFailed, name, err)
	}

	e := &Engine{
		name:     name,
		runtime:  rt,
		compiled: compiled,
		dataDir:  dataDir,
		ls:       ls,
	}
	if withAssets {
		e.assetsDir = assetsDir
	}

	ls.Info(log_service.LogEvent{
		Message:  "WASM engine compiled",
		Metadata: map[string]any{"engine": name, "size": len(bin)},
	})
	return e, nil
}

func (e *Engine) Run(ctx context.Context, argv []string, stdout, stderr io.Writer) (int, error) {
	if len(argv) == 0 {
		return -1, engine.ErrEmptyArgv
	}

	fsCfg := wazero.NewFSConfig().WithDirMount(e.dataDir, GuestDataRoot)
	if e.assetsDir != "" {
		fsCfg = fsCfg.WithReadOnlyDirMount(e.assetsDir, GuestAssetsRoot)
	}

	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(append([]string{e.name}, argv...)...).
		WithStdout(stdout).
		WithStderr(stderr).
		WithFSConfig(fsCfg).
		WithSysWalltime().
		WithSysNanotime()

	mod, err := e.runtime.InstantiateModule(ctx, e.compiled, cfg)
	if mod != nil {
		defer mod.Close(ctx)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return -1, ctxErr
		}
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			return int(exitErr.ExitCode()), nil
		}
		return -1, err
	}
	return 0, nil
}

func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

var (
	_ engine.Loader = (*Loader)(nil)
	_ engine.Engine = (*Engine)(nil)
)
