package deduplication

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ExactFilter rejects byte-identical canonical keys.
// The first call for a key records it and returns false; later calls
// with the same key return true.
type ExactFilter interface {
	IsExactDuplicate(ctx context.Context, key string) bool
	Len() int
}

// ExactHash is the content hash of a canonical key
func ExactHash(key string) uint64 {
	return xxhash.Sum64String(key)
}

// MemoryExactFilter keeps seen hashes for the life of the process.
// With a positive capacity the oldest hashes are evicted first.
type MemoryExactFilter struct {
	mu       sync.Mutex
	seen     map[uint64]struct{}
	order    []uint64
	capacity int
}

// NewMemoryExactFilter creates an exact filter; capacity 0 means unbounded
func NewMemoryExactFilter(capacity int) *MemoryExactFilter {
	return &MemoryExactFilter{
		seen:     make(map[uint64]struct{}),
		capacity: capacity,
	}
}

func (f *MemoryExactFilter) IsExactDuplicate(_ context.Context, key string) bool {
	if key == "" {
		return false
	}
	h := ExactHash(key)

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[h]; ok {
		return true
	}
	f.seen[h] = struct{}{}
	if f.capacity > 0 {
		f.order = append(f.order, h)
		for len(f.order) > f.capacity {
			delete(f.seen, f.order[0])
			f.order = f.order[1:]
		}
	}
	return false
}

func (f *MemoryExactFilter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}
