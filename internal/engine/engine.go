package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Engine runs one synchronous invocation and reports its exit status.
// A non-zero status is returned as a code, not as an error.
type Engine interface {
	Run(ctx context.Context, argv []string, stdout, stderr io.Writer) (int, error)
	Close(ctx context.Context) error
}

// Spec describes what Init asks the loader for.
type Spec struct {
	Name   string
	Assets []string
	// DataDir is the host directory behind the virtual data root.
	DataDir string
	// MapPath turns a virtual path into a host path when the engine runs
	// outside the virtual namespace.
	MapPath func(virtual string) (string, bool)
}

type Loader interface {
	Load(ctx context.Context, spec Spec) (Engine, error)
}

// ExitError is a completed run with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("engine exited with status %d", e.Code)
	}
	return fmt.Sprintf("engine exited with status %d: %s", e.Code, e.Stderr)
}

// CheckAssets verifies every declared asset exists under dir.
func CheckAssets(dir string, assets []string) error {
	for _, a := range assets {
		if a == "" || filepath.IsAbs(a) || a != filepath.Clean(a) || a == ".." || filepath.Dir(a) != "." {
			return fmt.Errorf("%w: invalid asset name <%s>", ErrAssetNotFound, a)
		}
		if _, err := os.Stat(filepath.Join(dir, a)); err != nil {
			return fmt.Errorf("%w: %s", ErrAssetNotFound, a)
		}
	}
	return nil
}

// TailWriter keeps the last Max bytes written to it.
type TailWriter struct {
	Max int
	buf []byte
}

func (t *TailWriter) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.Max; t.Max > 0 && over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *TailWriter) String() string {
	return string(t.buf)
}
