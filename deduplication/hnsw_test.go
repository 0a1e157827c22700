package deduplication

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func bruteForce(vectors [][]float32, q []float32, k int) []int64 {
	qn := NormalizeVector(q)
	type scored struct {
		id  int64
		sim float32
	}
	all := make([]scored, len(vectors))
	for i, v := range vectors {
		all[i] = scored{int64(i), dot(qn, NormalizeVector(v))}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].sim > all[j].sim })
	out := make([]int64, k)
	for i := 0; i < k; i++ {
		out[i] = all[i].id
	}
	return out
}

func TestHNSWEmptyQuery(t *testing.T) {
	h, err := NewHNSW(DefaultHNSWConfig(8))
	require.NoError(t, err)
	assert.Nil(t, h.Query(make([]float32, 8), 5))
	assert.Equal(t, int64(-1), h.MaxID())
	assert.Equal(t, 0, h.Len())
}

func TestHNSWInsertValidation(t *testing.T) {
	h, err := NewHNSW(DefaultHNSWConfig(3))
	require.NoError(t, err)

	err = h.Insert(1, []float32{1, 2})
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	require.NoError(t, h.Insert(1, []float32{1, 2, 3}))
	err = h.Insert(1, []float32{3, 2, 1})
	assert.True(t, errors.Is(err, ErrDuplicateID))

	assert.True(t, h.Contains(1))
	assert.False(t, h.Contains(2))
	assert.Nil(t, h.Query([]float32{1, 2}, 1), "wrong dimension query returns nothing")
}

func TestHNSWRecallAgainstBruteForce(t *testing.T) {
	const (
		dim     = 32
		n       = 1000
		queries = 50
		k       = 10
	)
	rng := rand.New(rand.NewSource(7))
	vectors := randomVectors(rng, n, dim)

	h, err := NewHNSW(DefaultHNSWConfig(dim))
	require.NoError(t, err)
	for i, v := range vectors {
		require.NoError(t, h.Insert(int64(i), v))
	}
	require.Equal(t, n, h.Len())

	hits := 0
	for _, q := range randomVectors(rng, queries, dim) {
		want := make(map[int64]bool, k)
		for _, id := range bruteForce(vectors, q, k) {
			want[id] = true
		}
		got := h.Query(q, k)
		require.Len(t, got, k)
		for i := 1; i < len(got); i++ {
			assert.GreaterOrEqual(t, got[i-1].Similarity, got[i].Similarity, "results must be sorted")
		}
		for _, nb := range got {
			if want[nb.ID] {
				hits++
			}
		}
	}
	recall := float64(hits) / float64(queries*k)
	assert.GreaterOrEqual(t, recall, 0.9, "recall@%d = %.3f", k, recall)
}

func TestHNSWSelfQueryFindsItself(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	vectors := randomVectors(rng, 200, 16)
	h, err := NewHNSW(DefaultHNSWConfig(16))
	require.NoError(t, err)
	for i, v := range vectors {
		require.NoError(t, h.Insert(int64(i)*10, v))
	}

	for i, v := range vectors {
		got := h.Query(v, 1)
		require.Len(t, got, 1)
		assert.Equal(t, int64(i)*10, got[0].ID)
		assert.InDelta(t, 1.0, got[0].Similarity, 1e-5)
	}
	assert.Equal(t, int64(1990), h.MaxID())
}

func TestHNSWMarshalRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	vectors := randomVectors(rng, 300, 12)
	h, err := NewHNSW(DefaultHNSWConfig(12))
	require.NoError(t, err)
	for i, v := range vectors {
		require.NoError(t, h.Insert(int64(i), v))
	}

	blob, err := h.MarshalBinary()
	require.NoError(t, err)

	restored := newHNSW(DefaultHNSWConfig(12), 0)
	require.NoError(t, restored.UnmarshalBinary(blob))
	assert.Equal(t, h.Len(), restored.Len())
	assert.ElementsMatch(t, h.IDs(), restored.IDs())

	for _, q := range randomVectors(rng, 20, 12) {
		assert.Equal(t, h.Query(q, 5), restored.Query(q, 5))
	}

	// the restored graph keeps accepting inserts
	require.NoError(t, restored.Insert(1000, vectors[0]))
	got := restored.Query(vectors[0], 2)
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []int64{0, 1000}, []int64{got[0].ID, got[1].ID})
}

func TestHNSWUnmarshalRejectsCorruptData(t *testing.T) {
	h, err := NewHNSW(DefaultHNSWConfig(4))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, h.Insert(int64(i), []float32{float32(i), 1, 2, 3}))
	}
	blob, err := h.MarshalBinary()
	require.NoError(t, err)

	badMagic := append([]byte{}, blob...)
	badMagic[0] = 'X'

	cases := map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("not an index at all"),
		"bad magic": badMagic,
		"truncated": blob[:len(blob)-7],
		"huge level": forgedIndex(t, 1<<31-1, 1<<31-1, 1, 1),
		"too many nodes": forgedIndex(t, 0, 0, 1<<30, 1),
		"too many links": forgedIndex(t, 0, 0, 1, 65),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			target := newHNSW(DefaultHNSWConfig(4), 0)
			err := target.UnmarshalBinary(data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorruptIndex))
			assert.Equal(t, 0, target.Len(), "a failed decode leaves the index untouched")
		})
	}
}

// forgedIndex encodes a header for a dim 4, M 32 graph followed by a single
// node; it only has to get as far as the checks under test
func forgedIndex(t *testing.T, maxLevel, level int32, size, links uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	fields := []any{
		hnswMagic, hnswVersion,
		uint32(4), uint32(32), uint32(200), uint32(64), int64(42),
		maxLevel, int32(0), size,
		int64(7), uint32(level), []float32{1, 0, 0, 0}, links,
	}
	for _, f := range fields {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, f))
	}
	return buf.Bytes()
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := NormalizeVector([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, zero)
}

func TestHNSWConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultHNSWConfig(768).Validate())

	cfg := DefaultHNSWConfig(768)
	cfg.M = 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultHNSWConfig(0)
	assert.Error(t, cfg.Validate())
}
