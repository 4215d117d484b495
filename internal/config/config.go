// Package config loads the YAML file shared by the worker and the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AnishMulay/sandsampler/internal/file_source/s3source"
	"github.com/AnishMulay/sandsampler/internal/log_service"
	"github.com/AnishMulay/sandsampler/internal/sampler"

	"gopkg.in/yaml.v3"
)

const (
	EngineWasm    = "wasm"
	EngineProcess = "process"

	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Worker         WorkerConfig    `yaml:"worker"`
	Sampler        sampler.Config  `yaml:"sampler"`
	Log            LogConfig       `yaml:"log"`
	Metrics        MetricsConfig   `yaml:"metrics"`
	S3             s3source.Config `yaml:"s3"`
	ChunkCacheSize int             `yaml:"chunk_cache_size"`
}

type WorkerConfig struct {
	Listen  string       `yaml:"listen"`
	DataDir string       `yaml:"data_dir"`
	Engine  EngineConfig `yaml:"engine"`
}

type EngineConfig struct {
	Kind      string `yaml:"kind"`
	ModuleDir string `yaml:"module_dir"`
}

type LogConfig struct {
	Dir    string `yaml:"dir"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// S3Enabled reports whether s3:// mounts are configured.
func (c *Config) S3Enabled() bool {
	return c.S3.Region != "" || c.S3.Endpoint != ""
}

func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Worker.Listen == "" {
		c.Worker.Listen = "localhost:7070"
	}
	if c.Worker.DataDir == "" {
		c.Worker.DataDir = "./run/data"
	}
	if c.Worker.Engine.Kind == "" {
		c.Worker.Engine.Kind = EngineWasm
	}
	if c.Worker.Engine.ModuleDir == "" {
		c.Worker.Engine.ModuleDir = "./engines"
	}
	c.Sampler = c.Sampler.WithDefaults()
	if c.Log.Dir == "" {
		c.Log.Dir = "./run/logs"
	}
	if c.Log.Level == "" {
		c.Log.Level = log_service.InfoLevel
	}
	c.Log.Level = strings.ToUpper(c.Log.Level)
	if c.Log.Format == "" {
		c.Log.Format = LogFormatConsole
	}
	if c.ChunkCacheSize == 0 {
		c.ChunkCacheSize = 64
	}
}

func (c *Config) Validate() error {
	switch c.Worker.Engine.Kind {
	case EngineWasm, EngineProcess:
	default:
		return fmt.Errorf("%w: engine kind <%s>", ErrInvalidConfig, c.Worker.Engine.Kind)
	}
	switch c.Log.Format {
	case LogFormatConsole, LogFormatJSON:
	default:
		return fmt.Errorf("%w: log format <%s>", ErrInvalidConfig, c.Log.Format)
	}
	switch c.Log.Level {
	case log_service.DebugLevel, log_service.InfoLevel, log_service.WarnLevel, log_service.ErrorLevel:
	default:
		return fmt.Errorf("%w: log level <%s>", ErrInvalidConfig, c.Log.Level)
	}
	if c.ChunkCacheSize < 0 {
		return fmt.Errorf("%w: chunk_cache_size must be positive", ErrInvalidConfig)
	}
	if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		return fmt.Errorf("%w: s3 access_key and secret_key go together", ErrInvalidConfig)
	}
	if err := c.Sampler.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Load reads path. A missing file is created with the defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
