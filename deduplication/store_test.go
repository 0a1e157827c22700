package deduplication

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsdedup/types"
)

type memoryMirror struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newMemoryMirror() *memoryMirror {
	return &memoryMirror{objects: make(map[string][]byte)}
}

func (m *memoryMirror) Upload(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errors.New("bucket unavailable")
	}
	m.objects[name] = append([]byte{}, data...)
	return nil
}

func (m *memoryMirror) Download(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[name]
	if !ok {
		return nil, ErrNotInMirror
	}
	return data, nil
}

func storePaths(t *testing.T) (string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "state", "news.index"), filepath.Join(dir, "state", "news.idmap.json")
}

func sampleState(t *testing.T) (*HNSW, map[int64]Entry) {
	t.Helper()
	idx, err := NewHNSW(DefaultHNSWConfig(3))
	require.NoError(t, err)
	require.NoError(t, idx.Insert(0, []float32{1, 0, 0}))
	require.NoError(t, idx.Insert(4, []float32{0, 1, 0}))
	meta := map[int64]Entry{
		0: {ID: 0, Article: types.Article{Title: "zero", URL: "https://a.example/0"}, Timestamp: 1700000000},
		4: {ID: 4, Article: types.Article{Title: "four", Description: "d"}, Timestamp: 1700000100},
	}
	return idx, meta
}

func TestStoreRoundTrip(t *testing.T) {
	indexPath, idmapPath := storePaths(t)
	s := NewStore(indexPath, idmapPath, nil, zerolog.Nop())
	idx, meta := sampleState(t)

	require.NoError(t, s.Save(context.Background(), idx, meta, 9))

	snap := s.Load(context.Background(), DefaultHNSWConfig(3))
	assert.Equal(t, 2, snap.Index.Len())
	assert.Equal(t, int64(9), snap.NextID)
	require.Len(t, snap.Meta, 2)
	assert.Equal(t, "four", snap.Meta[4].Article.Title)
	assert.Equal(t, int64(1700000100), snap.Meta[4].Timestamp)
	assert.Equal(t, int64(4), snap.Meta[4].ID)
}

func TestStoreIDMapFormat(t *testing.T) {
	indexPath, idmapPath := storePaths(t)
	s := NewStore(indexPath, idmapPath, nil, zerolog.Nop())
	idx, meta := sampleState(t)
	require.NoError(t, s.Save(context.Background(), idx, meta, 5))

	raw, err := os.ReadFile(idmapPath)
	require.NoError(t, err)
	var doc struct {
		ID2Meta map[string]struct {
			TS      int64         `json:"ts"`
			Article types.Article `json:"article"`
		} `json:"id2meta"`
		NextID int64 `json:"next_id"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc.ID2Meta, "0")
	assert.Contains(t, doc.ID2Meta, "4")
	assert.Equal(t, "https://a.example/0", doc.ID2Meta["0"].Article.URL)
	assert.Equal(t, int64(5), doc.NextID)

	entries, err := os.ReadDir(filepath.Dir(idmapPath))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files are left behind")
}

func TestStoreNextIDNeverBelowStoredIDs(t *testing.T) {
	indexPath, idmapPath := storePaths(t)
	s := NewStore(indexPath, idmapPath, nil, zerolog.Nop())
	idx, meta := sampleState(t)
	require.NoError(t, s.Save(context.Background(), idx, meta, 0))

	snap := s.Load(context.Background(), DefaultHNSWConfig(3))
	assert.Equal(t, int64(5), snap.NextID)
}

func TestStoreMissingFilesStartCold(t *testing.T) {
	indexPath, idmapPath := storePaths(t)
	snap := NewStore(indexPath, idmapPath, nil, zerolog.Nop()).Load(context.Background(), DefaultHNSWConfig(3))
	assert.Equal(t, 0, snap.Index.Len())
	assert.Empty(t, snap.Meta)
	assert.Equal(t, int64(0), snap.NextID)
}

func TestStoreForgedIndexHeaderStartsCold(t *testing.T) {
	indexPath, idmapPath := storePaths(t)
	require.NoError(t, os.WriteFile(indexPath, forgedIndex(t, 1<<31-1, 1<<31-1, 1, 1), 0o644))

	snap := NewStore(indexPath, idmapPath, nil, zerolog.Nop()).Load(context.Background(), DefaultHNSWConfig(4))
	assert.Equal(t, 0, snap.Index.Len())
	assert.Equal(t, int64(0), snap.NextID)
}

func TestStoreHalvesLoadIndependently(t *testing.T) {
	indexPath, idmapPath := storePaths(t)
	s := NewStore(indexPath, idmapPath, nil, zerolog.Nop())
	idx, meta := sampleState(t)
	require.NoError(t, s.Save(context.Background(), idx, meta, 5))

	t.Run("corrupt index keeps metadata", func(t *testing.T) {
		require.NoError(t, os.WriteFile(indexPath, []byte("junk"), 0o644))
		snap := s.Load(context.Background(), DefaultHNSWConfig(3))
		assert.Equal(t, 0, snap.Index.Len())
		assert.Len(t, snap.Meta, 2)
	})

	t.Run("dimension change discards index", func(t *testing.T) {
		require.NoError(t, s.Save(context.Background(), idx, meta, 5))
		snap := s.Load(context.Background(), DefaultHNSWConfig(8))
		assert.Equal(t, 0, snap.Index.Len())
		assert.Equal(t, 8, snap.Index.Dim())
		assert.Len(t, snap.Meta, 2)
	})

	t.Run("bad key rejects the whole map", func(t *testing.T) {
		require.NoError(t, s.Save(context.Background(), idx, meta, 5))
		require.NoError(t, os.WriteFile(idmapPath,
			[]byte(`{"id2meta":{"1":{"ts":1,"article":{"title":"ok"}},"x":{"ts":2,"article":{}}}}`), 0o644))
		snap := s.Load(context.Background(), DefaultHNSWConfig(3))
		assert.Empty(t, snap.Meta)
		assert.Equal(t, 2, snap.Index.Len())
		assert.Equal(t, int64(5), snap.NextID, "next id still clears indexed ids")
	})
}

func TestStoreMirror(t *testing.T) {
	ctx := context.Background()
	mirror := newMemoryMirror()
	indexPath, idmapPath := storePaths(t)
	s := NewStore(indexPath, idmapPath, mirror, zerolog.Nop())
	idx, meta := sampleState(t)

	require.NoError(t, s.Save(ctx, idx, meta, 5))
	assert.Contains(t, mirror.objects, "news.index")
	assert.Contains(t, mirror.objects, "news.idmap.json")

	// a fresh machine restores from the mirror
	otherIndex, otherIDMap := storePaths(t)
	restored := NewStore(otherIndex, otherIDMap, mirror, zerolog.Nop()).Load(ctx, DefaultHNSWConfig(3))
	assert.Equal(t, 2, restored.Index.Len())
	assert.Len(t, restored.Meta, 2)
	_, err := os.Stat(otherIDMap)
	assert.NoError(t, err, "restored files are cached locally")

	mirror.failPut = true
	err = s.Save(ctx, idx, meta, 6)
	require.Error(t, err)
	snap := s.Load(ctx, DefaultHNSWConfig(3))
	assert.Equal(t, int64(6), snap.NextID, "local files are written before mirroring")
}

func TestStorePushPull(t *testing.T) {
	ctx := context.Background()
	indexPath, idmapPath := storePaths(t)

	assert.Error(t, NewStore(indexPath, idmapPath, nil, zerolog.Nop()).PushMirror(ctx))

	mirror := newMemoryMirror()
	s := NewStore(indexPath, idmapPath, mirror, zerolog.Nop())
	idx, meta := sampleState(t)
	require.NoError(t, s.Save(ctx, idx, meta, 5))

	require.NoError(t, os.Remove(idmapPath))
	require.NoError(t, s.PullMirror(ctx))
	_, err := os.Stat(idmapPath)
	assert.NoError(t, err)

	empty := NewStore(filepath.Join(t.TempDir(), "a"), filepath.Join(t.TempDir(), "b"), newMemoryMirror(), zerolog.Nop())
	err = empty.PullMirror(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotInMirror))
}
