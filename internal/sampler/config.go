package sampler

import "fmt"

const (
	KB = 1024
	MB = 1024 * KB

	DefaultWindowSize            = MB / 2
	DefaultSmallFileFactor       = 5
	DefaultBoundaryProbeSize     = 2 * KB
	DefaultMaxConsecutiveRedraws = 10

	// PrefixCompressionRatio is the assumed gzip ratio: each prefix step
	// covers WindowSize/PrefixCompressionRatio compressed bytes.
	PrefixCompressionRatio = 4
)

type Config struct {
	WindowSize            int64 `yaml:"window_size"`
	SmallFileFactor       int64 `yaml:"small_file_factor"`
	BoundaryProbeSize     int64 `yaml:"boundary_probe_size"`
	MaxConsecutiveRedraws int   `yaml:"max_consecutive_redraws"`
	// Seed 0 seeds from the clock.
	Seed uint64 `yaml:"seed"`
}

func DefaultConfig() Config {
	return Config{
		WindowSize:            DefaultWindowSize,
		SmallFileFactor:       DefaultSmallFileFactor,
		BoundaryProbeSize:     DefaultBoundaryProbeSize,
		MaxConsecutiveRedraws: DefaultMaxConsecutiveRedraws,
	}
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.WindowSize == 0 {
		c.WindowSize = d.WindowSize
	}
	if c.SmallFileFactor == 0 {
		c.SmallFileFactor = d.SmallFileFactor
	}
	if c.BoundaryProbeSize == 0 {
		c.BoundaryProbeSize = d.BoundaryProbeSize
	}
	if c.MaxConsecutiveRedraws == 0 {
		c.MaxConsecutiveRedraws = d.MaxConsecutiveRedraws
	}
	return c
}

func (c Config) Validate() error {
	switch {
	case c.WindowSize <= 0:
		return fmt.Errorf("%w: window_size must be positive", ErrInvalidConfig)
	case c.SmallFileFactor < 0:
		return fmt.Errorf("%w: small_file_factor must not be negative", ErrInvalidConfig)
	case c.BoundaryProbeSize <= 0:
		return fmt.Errorf("%w: boundary_probe_size must be positive", ErrInvalidConfig)
	case c.MaxConsecutiveRedraws <= 0:
		return fmt.Errorf("%w: max_consecutive_redraws must be positive", ErrInvalidConfig)
	}
	return nil
}
