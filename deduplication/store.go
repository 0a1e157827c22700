package deduplication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"newsdedup/types"
)

// ErrNotInMirror is returned by a Mirror that has no copy of a file
var ErrNotInMirror = errors.New("object not in mirror")

// Entry is one admitted article. Vector is kept in memory only; on disk the
// vector lives inside the serialized index.
type Entry struct {
	ID        int64         `json:"id"`
	Article   types.Article `json:"article"`
	Timestamp int64         `json:"ts"`
	Vector    []float32     `json:"-"`
}

// Mirror is remote storage for state snapshots
type Mirror interface {
	Upload(ctx context.Context, name string, data []byte) error
	Download(ctx context.Context, name string) ([]byte, error)
}

// Snapshot is the state recovered by Load
type Snapshot struct {
	Index  *HNSW
	Meta   map[int64]Entry
	NextID int64
}

// Store persists the index blob and the id map on local disk, optionally
// mirrored to remote storage.
type Store struct {
	indexPath string
	idmapPath string
	mirror    Mirror
	logger    zerolog.Logger
}

// NewStore creates a store; an empty path disables that file
func NewStore(indexPath, idmapPath string, mirror Mirror, logger zerolog.Logger) *Store {
	return &Store{
		indexPath: indexPath,
		idmapPath: idmapPath,
		mirror:    mirror,
		logger:    logger.With().Str("component", "store").Logger(),
	}
}

// IndexPath returns the index file location
func (s *Store) IndexPath() string { return s.indexPath }

// IDMapPath returns the id map file location
func (s *Store) IDMapPath() string { return s.idmapPath }

type idMapFile struct {
	ID2Meta map[string]idMapEntry `json:"id2meta"`
	NextID  *int64                `json:"next_id,omitempty"`
}

type idMapEntry struct {
	TS      int64         `json:"ts"`
	Article types.Article `json:"article"`
}

// Load restores persisted state. It never fails: a missing or unreadable
// file yields the empty value for that half of the state.
func (s *Store) Load(ctx context.Context, cfg HNSWConfig) Snapshot {
	snap := Snapshot{Meta: make(map[int64]Entry)}

	if idx := s.loadIndex(ctx, cfg); idx != nil {
		snap.Index = idx
	} else {
		snap.Index = newHNSW(cfg, cfg.Seed)
	}

	persistedNext := s.loadIDMap(ctx, snap.Meta)

	next := persistedNext
	for id := range snap.Meta {
		if id+1 > next {
			next = id + 1
		}
	}
	if m := snap.Index.MaxID(); m+1 > next {
		next = m + 1
	}
	snap.NextID = next

	s.logger.Info().
		Int("entries", len(snap.Meta)).
		Int("indexed", snap.Index.Len()).
		Int64("next_id", snap.NextID).
		Msg("state loaded")
	return snap
}

func (s *Store) loadIndex(ctx context.Context, cfg HNSWConfig) *HNSW {
	if s.indexPath == "" {
		return nil
	}
	data, err := s.readWithRestore(ctx, s.indexPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", s.indexPath).Msg("index unreadable; starting empty")
		}
		return nil
	}
	idx := newHNSW(cfg, cfg.Seed)
	if err := idx.UnmarshalBinary(data); err != nil {
		s.logger.Warn().Err(err).Str("path", s.indexPath).Msg("index corrupt; starting empty")
		return nil
	}
	if idx.Dim() != cfg.Dim {
		s.logger.Warn().Int("stored_dim", idx.Dim()).Int("want_dim", cfg.Dim).Msg("index dimension changed; starting empty")
		return nil
	}
	return idx
}

func (s *Store) loadIDMap(ctx context.Context, into map[int64]Entry) int64 {
	if s.idmapPath == "" {
		return 0
	}
	data, err := s.readWithRestore(ctx, s.idmapPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", s.idmapPath).Msg("id map unreadable; starting empty")
		}
		return 0
	}

	var file idMapFile
	if err := json.Unmarshal(data, &file); err != nil {
		s.logger.Warn().Err(err).Str("path", s.idmapPath).Msg("id map corrupt; starting empty")
		return 0
	}

	parsed := make(map[int64]Entry, len(file.ID2Meta))
	for key, v := range file.ID2Meta {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || id < 0 {
			s.logger.Warn().Str("key", key).Str("path", s.idmapPath).Msg("id map has a bad key; starting empty")
			return 0
		}
		parsed[id] = Entry{ID: id, Article: v.Article, Timestamp: v.TS}
	}
	for id, e := range parsed {
		into[id] = e
	}
	if file.NextID != nil && *file.NextID > 0 {
		return *file.NextID
	}
	return 0
}

// readWithRestore reads path, pulling it from the mirror first when the
// local copy is missing
func (s *Store) readWithRestore(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil || !errors.Is(err, fs.ErrNotExist) || s.mirror == nil {
		return data, err
	}

	remote, merr := s.mirror.Download(ctx, filepath.Base(path))
	if merr != nil {
		if !errors.Is(merr, ErrNotInMirror) {
			s.logger.Warn().Err(merr).Str("path", path).Msg("mirror restore failed")
		}
		return nil, err
	}
	if werr := writeFileAtomic(path, remote); werr != nil {
		s.logger.Warn().Err(werr).Str("path", path).Msg("failed to cache restored file")
	}
	s.logger.Info().Str("path", path).Msg("restored from mirror")
	return remote, nil
}

// Save writes both files with write-then-rename, then mirrors them.
// A mirror failure is returned after the local files are in place.
func (s *Store) Save(ctx context.Context, index *HNSW, meta map[int64]Entry, nextID int64) error {
	var written []string

	if s.indexPath != "" && index != nil {
		blob, err := index.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode index: %w", err)
		}
		if err := writeFileAtomic(s.indexPath, blob); err != nil {
			return fmt.Errorf("write index: %w", err)
		}
		written = append(written, s.indexPath)
	}

	if s.idmapPath != "" {
		file := idMapFile{ID2Meta: make(map[string]idMapEntry, len(meta)), NextID: &nextID}
		for id, e := range meta {
			file.ID2Meta[strconv.FormatInt(id, 10)] = idMapEntry{TS: e.Timestamp, Article: e.Article}
		}
		blob, err := json.Marshal(file)
		if err != nil {
			return fmt.Errorf("encode id map: %w", err)
		}
		if err := writeFileAtomic(s.idmapPath, blob); err != nil {
			return fmt.Errorf("write id map: %w", err)
		}
		written = append(written, s.idmapPath)
	}

	if s.mirror == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	return s.PushMirror(ctx, written...)
}

// mirrorTimeout bounds the upload that follows a save
const mirrorTimeout = 60 * time.Second

// PushMirror uploads the given local files (default: both state files)
func (s *Store) PushMirror(ctx context.Context, paths ...string) error {
	if s.mirror == nil {
		return errors.New("no mirror configured")
	}
	if len(paths) == 0 {
		paths = s.paths()
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		if err := s.mirror.Upload(ctx, filepath.Base(p), data); err != nil {
			return fmt.Errorf("mirror %s: %w", p, err)
		}
	}
	return nil
}

// PullMirror overwrites the local state files with the mirrored copies
func (s *Store) PullMirror(ctx context.Context) error {
	if s.mirror == nil {
		return errors.New("no mirror configured")
	}
	for _, p := range s.paths() {
		data, err := s.mirror.Download(ctx, filepath.Base(p))
		if err != nil {
			return fmt.Errorf("download %s: %w", filepath.Base(p), err)
		}
		if err := writeFileAtomic(p, data); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) paths() []string {
	var out []string
	for _, p := range []string{s.indexPath, s.idmapPath} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it over path, so readers see either the old or the new file
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
