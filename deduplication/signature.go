package deduplication

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// shingleWidth is the character n-gram size fed into the simhash
const shingleWidth = 4

// SignatureFilter catches near-identical rewordings by bucketing a
// locality-sensitive signature of the canonical key.
type SignatureFilter interface {
	HasNearDuplicate(ctx context.Context, key string) bool
	Buckets() int
}

// Simhash64 computes a 64-bit simhash over character shingles of key.
// Non-word runes are dropped first so punctuation and spacing do not move
// the signature. ok is false when key has no word characters.
func Simhash64(key string) (uint64, bool) {
	shingles := Shingles(key, shingleWidth)
	if len(shingles) == 0 {
		return 0, false
	}

	weights := make(map[string]int, len(shingles))
	for _, s := range shingles {
		weights[s]++
	}

	var vector [64]int
	for s, w := range weights {
		h := xxhash.Sum64String(s)
		for bit := 0; bit < 64; bit++ {
			if h&(uint64(1)<<uint(bit)) != 0 {
				vector[bit] += w
			} else {
				vector[bit] -= w
			}
		}
	}

	var sig uint64
	for bit := 0; bit < 64; bit++ {
		if vector[bit] > 0 {
			sig |= uint64(1) << uint(bit)
		}
	}
	return sig, true
}

// Shingles returns overlapping width-rune windows over the word characters
// of s. Text shorter than width yields a single shingle.
func Shingles(s string, width int) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	runes := []rune(b.String())
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= width {
		return []string{string(runes)}
	}
	out := make([]string, 0, len(runes)-width+1)
	for i := 0; i+width <= len(runes); i++ {
		out = append(out, string(runes[i:i+width]))
	}
	return out
}

// SignaturePrefix returns the bucket id of a signature
func SignaturePrefix(sig uint64) uint16 {
	return uint16(sig >> (64 - SignaturePrefixBits))
}

// SimhashFilter treats any signature whose prefix bucket is already occupied
// as a near duplicate. No Hamming distance is computed: colliding prefixes
// are accepted as duplicates.
type SimhashFilter struct {
	mu       sync.Mutex
	buckets  map[uint16][]uint64
	order    []uint16
	capacity int
}

// NewSimhashFilter creates a signature filter; capacity bounds the number
// of occupied buckets (0 means unbounded)
func NewSimhashFilter(capacity int) *SimhashFilter {
	return &SimhashFilter{
		buckets:  make(map[uint16][]uint64),
		capacity: capacity,
	}
}

func (f *SimhashFilter) HasNearDuplicate(_ context.Context, key string) bool {
	sig, ok := Simhash64(key)
	if !ok {
		return false
	}
	prefix := SignaturePrefix(sig)

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.buckets[prefix]) > 0 {
		return true
	}
	f.buckets[prefix] = append(f.buckets[prefix], sig)
	if f.capacity > 0 {
		f.order = append(f.order, prefix)
		for len(f.order) > f.capacity {
			delete(f.buckets, f.order[0])
			f.order = f.order[1:]
		}
	}
	return false
}

func (f *SimhashFilter) Buckets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buckets)
}

// NoopSignatureFilter is used when the signature stage is switched off
type NoopSignatureFilter struct{}

func (NoopSignatureFilter) HasNearDuplicate(context.Context, string) bool { return false }
func (NoopSignatureFilter) Buckets() int { return 0 }
