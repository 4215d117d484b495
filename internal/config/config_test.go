package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AnishMulay/sandsampler/internal/sampler"
)

func TestLoad_WritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "sandsampler.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Worker.Engine.Kind != EngineWasm {
		t.Errorf("engine kind = %q, want %q", cfg.Worker.Engine.Kind, EngineWasm)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of written defaults error = %v", err)
	}
	if *again != *cfg {
		t.Errorf("reloaded config = %+v, want %+v", again, cfg)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		check   func(t *testing.T, c *Config)
		wantErr error
	}{
		{
			name: "overrides and defaults",
			yaml: `
worker:
  listen: 0.0.0.0:9000
  engine:
    kind: process
    module_dir: /opt/tools
sampler:
  window_size: 1048576
log:
  level: debug
  format: json
`,
			check: func(t *testing.T, c *Config) {
				if c.Worker.Listen != "0.0.0.0:9000" || c.Worker.Engine.Kind != EngineProcess {
					t.Errorf("worker = %+v", c.Worker)
				}
				if c.Sampler.WindowSize != sampler.MB {
					t.Errorf("window = %d, want %d", c.Sampler.WindowSize, sampler.MB)
				}
				if c.Sampler.MaxConsecutiveRedraws != sampler.DefaultMaxConsecutiveRedraws {
					t.Errorf("max redraws = %d, want default", c.Sampler.MaxConsecutiveRedraws)
				}
				if c.Log.Level != "DEBUG" || c.Log.Format != LogFormatJSON {
					t.Errorf("log = %+v", c.Log)
				}
				if c.ChunkCacheSize != 64 {
					t.Errorf("chunk cache = %d, want 64", c.ChunkCacheSize)
				}
			},
		},
		{
			name:    "unknown engine kind",
			yaml:    "worker:\n  engine:\n    kind: jvm\n",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "half s3 credentials",
			yaml:    "s3:\n  access_key: AKIA\n",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "bad log level",
			yaml:    "log:\n  level: loud\n",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "not yaml",
			yaml:    "worker: [",
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse([]byte(tt.yaml))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			tt.check(t, c)
		})
	}
}
