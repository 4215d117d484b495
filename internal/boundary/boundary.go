// Package boundary holds the record-start predicates a sample request can
// name in isValidChunk.
package boundary

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/AnishMulay/sandsampler/internal/sampler"
)

const (
	Any   = "any"
	FASTQ = "fastq"
	FASTA = "fasta"
)

type Registry struct {
	mu         sync.RWMutex
	predicates map[string]sampler.Predicate
}

// NewRegistry returns a registry preloaded with the built-in predicates.
func NewRegistry() *Registry {
	r := &Registry{predicates: make(map[string]sampler.Predicate)}
	r.predicates[Any] = AnyOffset
	r.predicates[FASTQ] = FASTQRecord
	r.predicates[FASTA] = FASTARecord
	return r
}

func (r *Registry) Register(id string, p sampler.Predicate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.predicates[id]; ok {
		return fmt.Errorf("%w: %s", ErrPredicateExists, id)
	}
	r.predicates[id] = p
	return nil
}

// Get resolves a predicate id. The empty id means Any.
func (r *Registry) Get(id string) (sampler.Predicate, error) {
	if id == "" {
		id = Any
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.predicates[id]
	if !ok {
		return nil, fmt.Errorf("%w <%s>", ErrUnknownPredicate, id)
	}
	return p, nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.predicates))
	for id := range r.predicates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func AnyOffset([]byte) bool {
	return true
}

// FASTQRecord holds when data opens with a full record: an '@' header,
// a sequence line, a '+' separator and a quality line as long as the
// sequence. A final quality line without newline counts if long enough.
func FASTQRecord(data []byte) bool {
	if len(data) == 0 || data[0] != '@' {
		return false
	}

	lines := make([][]byte, 0, 4)
	rest := data
	for len(lines) < 3 {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			return false
		}
		lines = append(lines, bytes.TrimSuffix(rest[:i], []byte{'\r'}))
		rest = rest[i+1:]
	}
	if i := bytes.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	qual := bytes.TrimSuffix(rest, []byte{'\r'})

	seq, sep := lines[1], lines[2]
	if len(sep) == 0 || sep[0] != '+' {
		return false
	}
	return len(seq) > 0 && len(seq) == len(qual)
}

// FASTARecord holds at a '>' header.
func FASTARecord(data []byte) bool {
	return len(data) > 0 && data[0] == '>'
}

// FASTQSuffixes are the file name endings accepted as FASTQ input.
var FASTQSuffixes = []string{".fastq", ".fq", ".fastq.gz", ".fq.gz"}

// IsFASTQName reports whether name carries a FASTQ suffix, compressed or not.
func IsFASTQName(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range FASTQSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
