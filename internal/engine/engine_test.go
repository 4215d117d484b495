package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckAssets(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "adapters.fa"), []byte(">a\nACGT\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		assets  []string
		wantErr bool
	}{
		{name: "none", assets: nil},
		{name: "present", assets: []string{"adapters.fa"}},
		{name: "missing", assets: []string{"missing.fa"}, wantErr: true},
		{name: "escapes dir", assets: []string{"../adapters.fa"}, wantErr: true},
		{name: "nested", assets: []string{"sub/adapters.fa"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAssets(dir, tt.assets)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckAssets() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrAssetNotFound) {
				t.Errorf("CheckAssets() error = %v, want ErrAssetNotFound", err)
			}
		})
	}
}

func TestTailWriter(t *testing.T) {
	tw := &TailWriter{Max: 5}
	tw.Write([]byte("hello "))
	tw.Write([]byte("world"))
	if tw.String() != "world" {
		t.Errorf("String() = %q, want world", tw.String())
	}

	unbounded := &TailWriter{}
	unbounded.Write([]byte(strings.Repeat("x", 100)))
	if len(unbounded.String()) != 100 {
		t.Errorf("unbounded tail kept %d bytes", len(unbounded.String()))
	}
}

func TestExitError(t *testing.T) {
	err := error(&ExitError{Code: 2, Stderr: "bad flag"})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 2 {
		t.Fatalf("errors.As() = %v", exitErr)
	}
	if err.Error() != "engine exited with status 2: bad flag" {
		t.Errorf("Error() = %q", err.Error())
	}
}
