// Package process runs a native binary per invocation. Virtual /data paths
// in argv are rewritten to their host locations.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/AnishMulay/sandsampler/internal/engine"
	"github.com/AnishMulay/sandsampler/internal/log_service"
)

const virtualPrefix = "/data/"

type Loader struct {
	binDir string
	ls     log_service.LogService
}

func NewLoader(binDir string, ls log_service.LogService) *Loader {
	return &Loader{binDir: binDir, ls: ls}
}

func (l *Loader) Load(ctx context.Context, spec engine.Spec) (engine.Engine, error) {
	if spec.Name == "" || strings.ContainsAny(spec.Name, `/\`) {
		return nil, fmt.Errorf("%w: invalid engine name <%s>", engine.ErrEngineNotFound, spec.Name)
	}

	path := filepath.Join(l.binDir, spec.Name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Mode()&0111 == 0 {
		return nil, fmt.Errorf("%w: %s", engine.ErrEngineNotFound, path)
	}
	if err := engine.CheckAssets(l.binDir, spec.Assets); err != nil {
		return nil, err
	}

	l.ls.Info(log_service.LogEvent{
		Message:  "Process engine loaded",
		Metadata: map[string]any{"engine": spec.Name, "path": path},
	})
	return &Engine{path: path, workDir: l.binDir, mapPath: spec.MapPath, ls: l.ls}, nil
}

type Engine struct {
	path    string
	workDir string
	mapPath func(string) (string, bool)
	ls      log_service.LogService
}

func (e *Engine) Run(ctx context.Context, argv []string, stdout, stderr io.Writer) (int, error) {
	if len(argv) == 0 {
		return -1, engine.ErrEmptyArgv
	}

	cmd := exec.CommandContext(ctx, e.path, e.hostArgs(argv)...)
	cmd.Dir = e.workDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	e.ls.Error(log_service.LogEvent{
		Message:  "Failed to start process engine",
		Metadata: map[string]any{"path": e.path, "error": err.Error()},
	})
	return -1, err
}

func (e *Engine) hostArgs(argv []string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = a
		if e.mapPath == nil || !strings.HasPrefix(a, virtualPrefix) {
			continue
		}
		if host, ok := e.mapPath(a); ok {
			out[i] = host
		}
	}
	return out
}

func (e *Engine) Close(context.Context) error {
	return nil
}

var (
	_ engine.Loader = (*Loader)(nil)
	_ engine.Engine = (*Engine)(nil)
)
