// Package registry maps instrument identifiers to their book aggregates.
package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/finsim/marketd/internal/market/book"
)

// Registry owns the instrument -> aggregate map. Creation is lazy: the first
// command for an instrument creates its book and runs the onCreate hook
// (projection wiring) exactly once, atomically with the insert. Books are
// never removed. The registry is an injected dependency, not a process-wide
// singleton, so tests can run isolated instances.
type Registry struct {
	mu       sync.Mutex
	books    map[string]*book.Book
	seq      *book.Sequence
	onCreate func(*book.Book)
	logger   *zap.Logger
}

// New creates a registry. The onCreate hook is invoked once per instrument,
// inside the same critical section that publishes the book, so concurrent
// first-time lookups cannot wire a consumer twice. A nil hook is allowed.
func New(seq *book.Sequence, onCreate func(*book.Book), logger *zap.Logger) *Registry {
	return &Registry{
		books:    make(map[string]*book.Book),
		seq:      seq,
		onCreate: onCreate,
		logger:   logger.Named("registry"),
	}
}

// GetOrCreate returns the single book for the instrument, creating and
// wiring it on first access. Concurrent callers converge on one instance.
func (r *Registry) GetOrCreate(instrument string) *book.Book {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.books[instrument]; ok {
		return b
	}

	b := book.New(instrument, r.seq, r.logger)
	r.books[instrument] = b
	if r.onCreate != nil {
		r.onCreate(b)
	}
	r.logger.Info("created book aggregate", zap.String("instrument", instrument))
	return b
}

// Instruments returns the ids of all live aggregates, sorted
func (r *Registry) Instruments() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.books))
	for id := range r.books {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
