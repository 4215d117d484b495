package sampler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/rand"
)

// Range is a visited byte interval [Start, End).
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Window is one sampling answer. Done is terminal for the file.
type Window struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
	Done  bool  `json:"done"`
}

type RangeReader interface {
	ReadRange(ctx context.Context, start, end int64) ([]byte, error)
}

// Predicate reports whether data begins with a well-formed record.
type Predicate func(data []byte) bool

// Sampler picks randomized, mostly non-overlapping windows of one file.
type Sampler struct {
	cfg      Config
	fileSize int64
	rng      *rand.Rand

	// probe is a single-slot semaphore; it also serializes state changes
	// across the probe read.
	probe chan struct{}

	// prefix mode serves growing windows from offset 0 for streams that
	// cannot be entered at a random offset.
	prefix bool

	mu              sync.Mutex
	visited         []Range
	redraws         int
	done            bool
	wholeFileServed bool
	coverage        *Coverage
}

func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewSource(seed))
}

func New(fileSize int64, cfg Config, rng *rand.Rand) *Sampler {
	cfg = cfg.WithDefaults()
	if rng == nil {
		rng = NewRand(cfg.Seed)
	}
	return &Sampler{
		cfg:      cfg,
		fileSize: fileSize,
		rng:      rng,
		probe:    make(chan struct{}, 1),
		coverage: NewCoverage(fileSize),
	}
}

// NewPrefix returns a sampler whose n-th window is [0, n*step), where step
// is WindowSize/PrefixCompressionRatio. It is done once a window reached the
// end of the file. Prefix windows are never probed for a record boundary.
func NewPrefix(fileSize int64, cfg Config) *Sampler {
	s := New(fileSize, cfg, nil)
	s.prefix = true
	return s
}

func (s *Sampler) FileSize() int64 {
	return s.fileSize
}

func (s *Sampler) smallFile() bool {
	return s.fileSize <= s.cfg.SmallFileFactor*s.cfg.WindowSize
}

// NextRegion draws the next window and snaps its start to the first offset
// in the probe read where isValid holds. A nil predicate accepts offset 0.
func (s *Sampler) NextRegion(ctx context.Context, r RangeReader, isValid Predicate) (Window, error) {
	select {
	case s.probe <- struct{}{}:
	case <-ctx.Done():
		return Window{}, ctx.Err()
	}
	defer func() { <-s.probe }()

	candidate, ok := s.draw()
	if !ok {
		return Window{Done: true}, nil
	}

	probeEnd := min(candidate.End, candidate.Start+s.cfg.BoundaryProbeSize)
	var probe []byte
	if !s.prefix && probeEnd > candidate.Start {
		data, err := r.ReadRange(ctx, candidate.Start, probeEnd)
		if err != nil {
			return Window{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
		}
		probe = data
	}

	offset, found := findBoundary(probe, isValid)
	if !found {
		s.record(candidate)
		return Window{}, fmt.Errorf("%w: [%d, %d)", ErrNoRecordBoundary, candidate.Start, candidate.End)
	}

	w := Range{Start: candidate.Start + int64(offset), End: candidate.End}
	s.record(w)
	return Window{Start: w.Start, End: w.End}, nil
}

// draw runs the redraw loop. It returns false once sampling is done.
func (s *Sampler) draw() (Range, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.prefix {
		return s.drawPrefix()
	}

	for {
		if s.done {
			return Range{}, false
		}

		s.redraws++
		if s.redraws > s.cfg.MaxConsecutiveRedraws {
			s.done = true
			return Range{}, false
		}

		var c Range
		if s.smallFile() {
			if s.wholeFileServed {
				s.done = true
				return Range{}, false
			}
			c = Range{Start: 0, End: s.fileSize}
		} else {
			c.Start = s.rng.Int63n(s.fileSize + 1)
			c.End = min(c.Start+s.cfg.WindowSize, s.fileSize)
		}

		c, resample := clip(c, s.visited)
		if !resample {
			s.redraws = 0
			return c, true
		}
	}
}

func (s *Sampler) drawPrefix() (Range, bool) {
	if s.done {
		return Range{}, false
	}
	if s.fileSize == 0 || (len(s.visited) > 0 && s.visited[len(s.visited)-1].End >= s.fileSize) {
		s.done = true
		return Range{}, false
	}
	step := max(s.cfg.WindowSize/PrefixCompressionRatio, 1)
	end := min(int64(len(s.visited)+1)*step, s.fileSize)
	return Range{Start: 0, End: end}, true
}

// clip trims the candidate against each visited range in insertion order.
// A trim can reintroduce overlap with an earlier range; that is accepted.
func clip(c Range, visited []Range) (Range, bool) {
	for _, v := range visited {
		if c.Start >= v.Start && c.Start <= v.End {
			if c.End <= v.End {
				return c, true
			}
			c.Start = v.End
		}

		if c.End >= v.Start && c.End <= v.End {
			if c.Start >= v.Start {
				return c, true
			}
			c.End = v.Start
		}
	}
	return c, false
}

func findBoundary(probe []byte, isValid Predicate) (int, bool) {
	if isValid == nil || len(probe) == 0 {
		return 0, true
	}
	for offset := 0; offset < len(probe); offset++ {
		if isValid(probe[offset:]) {
			return offset, true
		}
	}
	return 0, false
}

func (s *Sampler) record(r Range) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visited = append(s.visited, r)
	s.coverage.Add(r)
	if s.smallFile() {
		s.wholeFileServed = true
	}
}

func (s *Sampler) Visited() []Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Range, len(s.visited))
	copy(out, s.visited)
	return out
}

func (s *Sampler) Coverage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coverage.Fraction()
}

func (s *Sampler) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
