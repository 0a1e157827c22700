package deduplication

import (
	"bytes"
	"container/heap"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

var (
	// ErrDimensionMismatch is returned when a vector does not match the index dimension
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrDuplicateID is returned when an id is inserted twice
	ErrDuplicateID = errors.New("id already indexed")
	// ErrCorruptIndex is returned by UnmarshalBinary for unreadable data
	ErrCorruptIndex = errors.New("corrupt index data")
)

var hnswMagic = [4]byte{'N', 'D', 'H', 'W'}

const hnswVersion uint32 = 1

// HNSWConfig holds graph construction parameters
type HNSWConfig struct {
	Dim int
	// M is the number of links per node on upper layers; layer 0 keeps 2*M
	M              int
	EfConstruction int
	EfSearch       int
	// Seed makes level assignment reproducible
	Seed int64
}

// DefaultHNSWConfig favors build and query speed over perfect recall
func DefaultHNSWConfig(dim int) HNSWConfig {
	return HNSWConfig{
		Dim:            dim,
		M:              32,
		EfConstruction: 200,
		EfSearch:       64,
		Seed:           42,
	}
}

// Validate checks if the configuration has valid values
func (c HNSWConfig) Validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("hnsw dim must be positive (got %d)", c.Dim)
	}
	if c.M < 2 {
		return fmt.Errorf("hnsw m must be at least 2 (got %d)", c.M)
	}
	if c.EfConstruction < c.M {
		return fmt.Errorf("hnsw ef_construction (%d) must be >= m (%d)", c.EfConstruction, c.M)
	}
	if c.EfSearch <= 0 {
		return fmt.Errorf("hnsw ef_search must be positive (got %d)", c.EfSearch)
	}
	return nil
}

// Neighbor is one query hit
type Neighbor struct {
	ID         int64   `json:"id"`
	Similarity float32 `json:"similarity"`
}

type hnswNode struct {
	id    int64
	vec   []float32
	links [][]int32
}

func (n *hnswNode) level() int { return len(n.links) - 1 }

// HNSW is a hierarchical navigable small world graph over L2-normalized
// vectors. Similarity is the inner product, which equals cosine similarity
// for normalized inputs.
type HNSW struct {
	mu        sync.RWMutex
	cfg       HNSWConfig
	levelMult float64
	rng       *rand.Rand
	nodes     []*hnswNode
	byID      map[int64]int32
	entry     int32
	maxLevel  int
}

// NewHNSW creates an empty index
func NewHNSW(cfg HNSWConfig) (*HNSW, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newHNSW(cfg, cfg.Seed), nil
}

func newHNSW(cfg HNSWConfig, seed int64) *HNSW {
	return &HNSW{
		cfg:       cfg,
		levelMult: 1 / math.Log(float64(cfg.M)),
		rng:       rand.New(rand.NewSource(seed)),
		byID:      make(map[int64]int32),
		entry:     -1,
	}
}

// Dim returns the vector dimension
func (h *HNSW) Dim() int { return h.cfg.Dim }

// Len returns the number of indexed vectors
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Contains reports whether id is indexed
func (h *HNSW) Contains(id int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byID[id]
	return ok
}

// IDs returns every indexed id in insertion order
func (h *HNSW) IDs() []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]int64, len(h.nodes))
	for i, n := range h.nodes {
		out[i] = n.id
	}
	return out
}

// MaxID returns the largest indexed id, or -1 when empty
func (h *HNSW) MaxID() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	maxID := int64(-1)
	for _, n := range h.nodes {
		if n.id > maxID {
			maxID = n.id
		}
	}
	return maxID
}

// NormalizeVector returns v scaled to unit length. The small epsilon keeps
// zero vectors finite.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum) + 1e-9
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func (h *HNSW) maxLinks(layer int) int {
	if layer == 0 {
		return 2 * h.cfg.M
	}
	return h.cfg.M
}

func (h *HNSW) randomLevel() int {
	r := h.rng.Float64()
	if r <= 0 {
		r = math.SmallestNonzeroFloat64
	}
	return min(int(math.Floor(-math.Log(r)*h.levelMult)), maxHNSWLevel)
}

// Insert adds a vector under id. The vector is normalized on the way in.
func (h *HNSW) Insert(id int64, vec []float32) error {
	if len(vec) != h.cfg.Dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), h.cfg.Dim)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.byID[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}

	q := NormalizeVector(vec)
	level := h.randomLevel()
	idx := int32(len(h.nodes))
	node := &hnswNode{id: id, vec: q, links: make([][]int32, level+1)}
	h.nodes = append(h.nodes, node)
	h.byID[id] = idx

	if h.entry < 0 {
		h.entry = idx
		h.maxLevel = level
		return nil
	}

	ep := h.entry
	for l := h.maxLevel; l > level; l-- {
		ep = h.greedyClosest(q, ep, l)
	}

	top := level
	if h.maxLevel < top {
		top = h.maxLevel
	}
	eps := []int32{ep}
	for l := top; l >= 0; l-- {
		found := h.searchLayer(q, eps, h.cfg.EfConstruction, l)
		selected := h.selectNeighbors(found, h.cfg.M)
		node.links[l] = selected
		for _, n := range selected {
			h.connect(n, idx, l)
		}
		eps = eps[:0]
		for _, c := range found {
			eps = append(eps, c.idx)
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = idx
	}
	return nil
}

// connect adds a back link from node n to target, shrinking n's list with
// the neighbor heuristic when it overflows
func (h *HNSW) connect(n, target int32, layer int) {
	node := h.nodes[n]
	node.links[layer] = append(node.links[layer], target)
	if len(node.links[layer]) <= h.maxLinks(layer) {
		return
	}
	cands := make([]candidate, 0, len(node.links[layer]))
	for _, l := range node.links[layer] {
		cands = append(cands, candidate{idx: l, sim: dot(node.vec, h.nodes[l].vec)})
	}
	sortCandidates(cands)
	node.links[layer] = h.selectNeighbors(cands, h.maxLinks(layer))
}

// selectNeighbors keeps candidates that are closer to the base than to any
// already selected neighbor, then tops up with the nearest leftovers.
// cands must be sorted by descending similarity to the base node.
func (h *HNSW) selectNeighbors(cands []candidate, m int) []int32 {
	if len(cands) <= m {
		out := make([]int32, len(cands))
		for i, c := range cands {
			out[i] = c.idx
		}
		return out
	}

	selected := make([]int32, 0, m)
	var pruned []int32
	for _, c := range cands {
		if len(selected) >= m {
			break
		}
		keep := true
		cv := h.nodes[c.idx].vec
		for _, s := range selected {
			if dot(cv, h.nodes[s].vec) > c.sim {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c.idx)
		} else {
			pruned = append(pruned, c.idx)
		}
	}
	for _, p := range pruned {
		if len(selected) >= m {
			break
		}
		selected = append(selected, p)
	}
	return selected
}

func (h *HNSW) greedyClosest(q []float32, ep int32, layer int) int32 {
	cur := ep
	curSim := dot(q, h.nodes[cur].vec)
	for changed := true; changed; {
		changed = false
		for _, n := range h.nodes[cur].links[layer] {
			if s := dot(q, h.nodes[n].vec); s > curSim {
				cur, curSim = n, s
				changed = true
			}
		}
	}
	return cur
}

// searchLayer returns up to ef nearest nodes on one layer, best first
func (h *HNSW) searchLayer(q []float32, eps []int32, ef int, layer int) []candidate {
	visited := make(map[int32]struct{}, ef*4)
	frontier := &maxSimHeap{}
	results := &minSimHeap{}

	for _, ep := range eps {
		if _, seen := visited[ep]; seen {
			continue
		}
		visited[ep] = struct{}{}
		c := candidate{idx: ep, sim: dot(q, h.nodes[ep].vec)}
		heap.Push(frontier, c)
		heap.Push(results, c)
		if results.Len() > ef {
			heap.Pop(results)
		}
	}

	for frontier.Len() > 0 {
		cur := heap.Pop(frontier).(candidate)
		if results.Len() >= ef && cur.sim < (*results)[0].sim {
			break
		}
		node := h.nodes[cur.idx]
		if layer > node.level() {
			continue
		}
		for _, n := range node.links[layer] {
			if _, seen := visited[n]; seen {
				continue
			}
			visited[n] = struct{}{}
			s := dot(q, h.nodes[n].vec)
			if results.Len() < ef || s > (*results)[0].sim {
				c := candidate{idx: n, sim: s}
				heap.Push(frontier, c)
				heap.Push(results, c)
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	copy(out, *results)
	sortCandidates(out)
	return out
}

// Query returns the k most similar vectors, most similar first
func (h *HNSW) Query(vec []float32, k int) []Neighbor {
	if vec == nil || k <= 0 || len(vec) != h.cfg.Dim {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.entry < 0 {
		return nil
	}

	q := NormalizeVector(vec)
	ep := h.entry
	for l := h.maxLevel; l > 0; l-- {
		ep = h.greedyClosest(q, ep, l)
	}
	ef := h.cfg.EfSearch
	if k > ef {
		ef = k
	}
	found := h.searchLayer(q, []int32{ep}, ef, 0)
	if len(found) > k {
		found = found[:k]
	}
	out := make([]Neighbor, len(found))
	for i, c := range found {
		out[i] = Neighbor{ID: h.nodes[c.idx].id, Similarity: c.sim}
	}
	return out
}

// MarshalBinary encodes the graph, vectors included, little-endian
func (h *HNSW) MarshalBinary() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var buf bytes.Buffer
	header := []any{
		hnswMagic,
		hnswVersion,
		uint32(h.cfg.Dim),
		uint32(h.cfg.M),
		uint32(h.cfg.EfConstruction),
		uint32(h.cfg.EfSearch),
		h.cfg.Seed,
		int32(h.maxLevel),
		h.entry,
		uint32(len(h.nodes)),
	}
	for _, v := range header {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	for _, n := range h.nodes {
		if err := binary.Write(&buf, binary.LittleEndian, n.id); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint32(n.level())); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, n.vec); err != nil {
			return nil, err
		}
		for _, links := range n.links {
			if err := binary.Write(&buf, binary.LittleEndian, uint32(len(links))); err != nil {
				return nil, err
			}
			if err := binary.Write(&buf, binary.LittleEndian, links); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces the index contents with data from MarshalBinary
func (h *HNSW) UnmarshalBinary(data []byte) error {
	decoded, err := decodeHNSW(data)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = decoded.cfg
	h.levelMult = decoded.levelMult
	h.rng = decoded.rng
	h.nodes = decoded.nodes
	h.byID = decoded.byID
	h.entry = decoded.entry
	h.maxLevel = decoded.maxLevel
	return nil
}

// Limits that guard allocation against garbage headers
const (
	maxDecodeDim = 1 << 16
	// maxHNSWLevel is far above any level randomLevel draws in practice
	maxHNSWLevel = 64
	// hnswHeaderBytes is the encoded size of the fixed header
	hnswHeaderBytes = 4 + 4*6 + 8 + 4 + 4 + 4
)

// minNodeBytes is the smallest encoding of one node: id, level, vector and
// the layer 0 link count
func minNodeBytes(dim uint32) uint64 {
	return 8 + 4 + 4*uint64(dim) + 4
}

func decodeHNSW(data []byte) (*HNSW, error) {
	r := bytes.NewReader(data)
	var (
		magic                  [4]byte
		version                uint32
		dim, m, efC, efS, size uint32
		seed                   int64
		maxLevel, entry        int32
	)
	for _, v := range []any{&magic, &version, &dim, &m, &efC, &efS, &seed, &maxLevel, &entry, &size} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("%w: header: %v", ErrCorruptIndex, err)
		}
	}
	if magic != hnswMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptIndex)
	}
	if version != hnswVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, version)
	}
	if dim == 0 || dim > maxDecodeDim {
		return nil, fmt.Errorf("%w: dimension %d", ErrCorruptIndex, dim)
	}
	cfg := HNSWConfig{Dim: int(dim), M: int(m), EfConstruction: int(efC), EfSearch: int(efS), Seed: seed}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	if maxLevel < 0 || maxLevel > maxHNSWLevel {
		return nil, fmt.Errorf("%w: max level %d", ErrCorruptIndex, maxLevel)
	}
	if uint64(size)*minNodeBytes(dim) > uint64(len(data)-hnswHeaderBytes) {
		return nil, fmt.Errorf("%w: %d nodes do not fit in %d bytes", ErrCorruptIndex, size, len(data))
	}

	// Reseed past the stored sequence so new levels do not repeat old draws
	h := newHNSW(cfg, seed+int64(size))
	h.maxLevel = int(maxLevel)
	h.entry = entry
	if (size == 0) != (entry < 0) || (size > 0 && uint32(entry) >= size) {
		return nil, fmt.Errorf("%w: entry point %d for %d nodes", ErrCorruptIndex, entry, size)
	}

	for i := uint32(0); i < size; i++ {
		var (
			id    int64
			level uint32
		)
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", ErrCorruptIndex, i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", ErrCorruptIndex, i, err)
		}
		if level > uint32(maxLevel) {
			return nil, fmt.Errorf("%w: node %d level %d above max %d", ErrCorruptIndex, i, level, maxLevel)
		}
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("%w: node %d vector: %v", ErrCorruptIndex, i, err)
		}
		links := make([][]int32, level+1)
		for l := range links {
			var n uint32
			if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
				return nil, fmt.Errorf("%w: node %d links: %v", ErrCorruptIndex, i, err)
			}
			if n > size || int(n) > h.maxLinks(l) {
				return nil, fmt.Errorf("%w: node %d has %d links on layer %d", ErrCorruptIndex, i, n, l)
			}
			links[l] = make([]int32, n)
			if err := binary.Read(r, binary.LittleEndian, links[l]); err != nil {
				return nil, fmt.Errorf("%w: node %d links: %v", ErrCorruptIndex, i, err)
			}
			for _, target := range links[l] {
				if target < 0 || uint32(target) >= size {
					return nil, fmt.Errorf("%w: node %d links to %d", ErrCorruptIndex, i, target)
				}
			}
		}
		if _, dup := h.byID[id]; dup {
			return nil, fmt.Errorf("%w: id %d repeated", ErrCorruptIndex, id)
		}
		h.byID[id] = int32(i)
		h.nodes = append(h.nodes, &hnswNode{id: id, vec: vec, links: links})
	}

	// Links must point at nodes that live on that layer
	for i, n := range h.nodes {
		for l, links := range n.links {
			for _, target := range links {
				if h.nodes[target].level() < l {
					return nil, fmt.Errorf("%w: node %d links to %d above its level", ErrCorruptIndex, i, target)
				}
			}
		}
	}
	if size > 0 && h.nodes[entry].level() != h.maxLevel {
		return nil, fmt.Errorf("%w: entry point is not on the top layer", ErrCorruptIndex)
	}
	return h, nil
}

type candidate struct {
	idx int32
	sim float32
}

func sortCandidates(c []candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].sim != c[j].sim {
			return c[i].sim > c[j].sim
		}
		return c[i].idx < c[j].idx
	})
}

// maxSimHeap pops the most similar candidate first
type maxSimHeap []candidate

func (h maxSimHeap) Len() int { return len(h) }
func (h maxSimHeap) Less(i, j int) bool { return h[i].sim > h[j].sim }
func (h maxSimHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *maxSimHeap) Push(x any) { *h = append(*h, x.(candidate)) }
func (h *maxSimHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// minSimHeap keeps the least similar result on top for eviction
type minSimHeap []candidate

func (h minSimHeap) Len() int { return len(h) }
func (h minSimHeap) Less(i, j int) bool { return h[i].sim < h[j].sim }
func (h minSimHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *minSimHeap) Push(x any) { *h = append(*h, x.(candidate)) }
func (h *minSimHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
