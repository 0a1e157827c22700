package deduplication

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"newsdedup/types"
)

// Recorder receives the decisions of every processed batch
type Recorder interface {
	Record(ctx context.Context, batchID string, decisions []types.Decision) error
}

// Options wires a Deduplicator. Only Config is required; missing
// collaborators fall back to in-memory or no-op implementations.
type Options struct {
	Config   Config
	Provider EmbeddingsProvider
	Oracle   Oracle
	// Exact overrides the in-memory exact filter (e.g. RedisExactFilter)
	Exact ExactFilter
	// Signature overrides the simhash filter built from Config
	Signature SignatureFilter
	Mirror    Mirror
	Recorder  Recorder
	Logger    zerolog.Logger
	// Now is the clock used for entry timestamps
	Now func() time.Time
}

// Stats is a point-in-time view of the engine state
type Stats struct {
	Entries            int    `json:"entries"`
	Indexed            int    `json:"indexed"`
	NextID             int64  `json:"next_id"`
	ExactKeys          int    `json:"exact_keys"`
	SignatureBuckets   int    `json:"signature_buckets"`
	EmbedModel         string `json:"embed_model,omitempty"`
	ArbitrationEnabled bool   `json:"arbitration_enabled"`
}

// Deduplicator runs the layered duplicate-detection pipeline and owns all
// of its state. Batches commit one at a time.
type Deduplicator struct {
	cfg       Config
	exact     ExactFilter
	signature SignatureFilter
	gateway   *Gateway
	arbiter   *Arbitrator
	store     *Store
	recorder  Recorder
	logger    zerolog.Logger
	now       func() time.Time

	// entries and issued mirror len(meta) and nextID for Stats, which must
	// not wait on a batch that is arbitrating
	entries atomic.Int64
	issued  atomic.Int64

	// mu guards everything below; id assignment, metadata insert and index
	// insert happen together under it
	mu           sync.Mutex
	index        *HNSW
	meta         map[int64]Entry
	recent       []int64
	nextID       int64
	keyOwners    map[uint64]int64
	bucketOwners map[uint16]int64
}

// NewDeduplicator validates the configuration and loads persisted state.
// Unreadable state starts the engine cold rather than failing.
func NewDeduplicator(ctx context.Context, opts Options) (*Deduplicator, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid deduplication config: %w", err)
	}

	logger := opts.Logger.With().Str("component", "deduplicator").Logger()
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	exact := opts.Exact
	if exact == nil {
		exact = NewMemoryExactFilter(cfg.ExactCapacity)
	}
	signature := opts.Signature
	if signature == nil {
		signature = NoopSignatureFilter{}
		if cfg.SignatureEnabled {
			signature = NewSimhashFilter(cfg.SignatureCapacity)
		}
	}

	d := &Deduplicator{
		cfg:       cfg,
		exact:     exact,
		signature: signature,
		gateway: NewGateway(opts.Provider, GatewayConfig{
			Dim:       cfg.EmbedDim,
			Workers:   cfg.EmbedWorkers,
			BatchSize: cfg.EmbedBatchSize,
			Timeout:   cfg.EmbedTimeout,
			RateLimit: cfg.EmbedRateLimit,
		}, opts.Logger),
		arbiter:      NewArbitrator(opts.Oracle, cfg.ArbitrationTimeout, opts.Logger),
		store:        NewStore(cfg.IndexPath, cfg.IDMapPath, opts.Mirror, opts.Logger),
		recorder:     opts.Recorder,
		logger:       logger,
		now:          now,
		keyOwners:    make(map[uint64]int64),
		bucketOwners: make(map[uint16]int64),
	}

	snap := d.store.Load(ctx, cfg.HNSW)
	d.index = snap.Index
	d.meta = snap.Meta
	d.nextID = snap.NextID

	ids := make([]int64, 0, len(d.meta))
	for id := range d.meta {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		key := CanonicalKey(d.meta[id].Article)
		d.trackOwner(id, key)
		if cfg.WarmFilters {
			d.exact.IsExactDuplicate(ctx, key)
			d.signature.HasNearDuplicate(ctx, key)
		}
	}
	d.recent = lastN(ids, cfg.FallbackWindow)
	d.publishCountsLocked()

	logger.Info().
		Str("config", cfg.String()).
		Int("entries", len(d.meta)).
		Bool("arbitration", d.arbiter.Enabled()).
		Str("embed_model", d.gateway.ModelName()).
		Msg("deduplicator ready")
	return d, nil
}

// RemoveDuplicates returns the novel subset of articles, longest description
// first, and commits them. It never fails; degraded stages keep articles.
func (d *Deduplicator) RemoveDuplicates(ctx context.Context, articles []types.Article) []types.Article {
	return d.Process(ctx, articles).Novel
}

// Process is RemoveDuplicates with a per-article explanation. Cancelling
// ctx does not abort a batch: filters record keys as they check them, so a
// half-run batch would leave keys behind without their entries. Each stage
// is bounded by its own timeout instead.
func (d *Deduplicator) Process(ctx context.Context, articles []types.Article) types.BatchResult {
	ctx = context.WithoutCancel(ctx)
	result := types.BatchResult{
		BatchID:   uuid.NewString(),
		Started:   d.now(),
		Decisions: make([]types.Decision, len(articles)),
		Novel:     []types.Article{},
	}
	if len(articles) == 0 {
		result.Finished = d.now()
		return result
	}

	ordered := make([]types.Article, len(articles))
	copy(ordered, articles)
	sort.SliceStable(ordered, func(i, j int) bool {
		return runeLen(ordered[i].Description) > runeLen(ordered[j].Description)
	})

	// Cheap filters record keys at check time, so they run for the whole
	// batch before any embedding call
	keys := make([]string, len(ordered))
	pending := make([]int, 0, len(ordered))
	for i, a := range ordered {
		keys[i] = CanonicalKey(a)
		dec := types.Decision{Article: a, Verdict: types.VerdictNovel, Layer: types.LayerNone}
		switch {
		case d.exact.IsExactDuplicate(ctx, keys[i]):
			dec.Verdict, dec.Layer = types.VerdictExactDuplicate, types.LayerExact
		case d.signature.HasNearDuplicate(ctx, keys[i]):
			dec.Verdict, dec.Layer = types.VerdictNearDuplicate, types.LayerSignature
		default:
			pending = append(pending, i)
		}
		result.Decisions[i] = dec
	}

	texts := make([]string, len(pending))
	for j, i := range pending {
		texts[j] = EmbedPayload(ordered[i])
	}
	vecs := d.gateway.EmbedBatch(ctx, texts)

	d.mu.Lock()
	ts := d.now().Unix()
	for j, i := range pending {
		dec := d.decideLocked(ctx, ordered[i], vecs[j])
		if dec.Verdict == types.VerdictNovel {
			id := d.commitLocked(ordered[i], keys[i], vecs[j], ts)
			dec.AssignedID = &id
			result.Novel = append(result.Novel, ordered[i])
		}
		result.Decisions[i] = dec
	}
	d.resolveOwnersLocked(result.Decisions, keys)
	if len(result.Novel) > 0 {
		if err := d.saveLocked(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("failed to save state")
		}
	}
	d.mu.Unlock()

	finished := d.now()
	for i := range result.Decisions {
		result.Decisions[i].DecidedAt = finished
		d.logDecision(result.Decisions[i])
	}
	result.Finished = finished

	if d.recorder != nil {
		if err := d.recorder.Record(ctx, result.BatchID, result.Decisions); err != nil {
			d.logger.Warn().Err(err).Str("batch_id", result.BatchID).Msg("failed to record decisions")
		}
	}

	d.logger.Info().
		Str("batch_id", result.BatchID).
		Int("articles", len(articles)).
		Int("novel", len(result.Novel)).
		Int("duplicates", result.DuplicateCount()).
		Dur("took", finished.Sub(result.Started)).
		Msg("batch deduplicated")
	return result
}

// decideLocked applies the similarity policy to an article that passed the
// cheap filters
func (d *Deduplicator) decideLocked(ctx context.Context, a types.Article, vec []float32) types.Decision {
	dec := types.Decision{Article: a, Verdict: types.VerdictNovel, Layer: types.LayerNone}

	if vec == nil {
		// No embedding: never admit without some semantic check
		for _, id := range d.recent {
			e, ok := d.meta[id]
			if !ok {
				continue
			}
			dec.Arbitrated = d.arbiter.Enabled()
			if d.arbiter.SameEvent(ctx, a, e.Article) {
				id := id
				dec.Verdict, dec.Layer, dec.MatchID = types.VerdictFallbackDuplicate, types.LayerFallback, &id
				return dec
			}
		}
		return dec
	}

	best, ok := d.bestNeighborLocked(vec)
	if !ok {
		return dec
	}
	sim := best.Similarity
	dec.Similarity = &sim

	switch {
	case sim >= d.cfg.SimThreshold:
		dec.Verdict, dec.Layer, dec.MatchID = types.VerdictSemanticDuplicate, types.LayerANN, &best.ID
	case sim >= d.cfg.BorderlineLow && sim < d.cfg.BorderlineHigh:
		dec.Arbitrated = d.arbiter.Enabled()
		if d.arbiter.SameEvent(ctx, a, d.meta[best.ID].Article) {
			dec.Verdict, dec.Layer, dec.MatchID = types.VerdictArbitratedDuplicate, types.LayerArbiter, &best.ID
		}
	}
	return dec
}

// bestNeighborLocked returns the most similar indexed entry that still has
// metadata; orphaned index ids are skipped
func (d *Deduplicator) bestNeighborLocked(vec []float32) (Neighbor, bool) {
	if d.index.Len() == 0 {
		return Neighbor{}, false
	}
	for _, n := range d.index.Query(vec, d.cfg.TopK) {
		if _, ok := d.meta[n.ID]; ok {
			return n, true
		}
		d.logger.Warn().Int64("id", n.ID).Msg("index entry without metadata; ignoring")
	}
	return Neighbor{}, false
}

func (d *Deduplicator) commitLocked(a types.Article, key string, vec []float32, ts int64) int64 {
	id := d.nextID
	d.nextID++

	e := Entry{ID: id, Article: a, Timestamp: ts}
	if vec != nil {
		if err := d.index.Insert(id, vec); err != nil {
			d.logger.Warn().Err(err).Int64("id", id).Msg("failed to index vector")
		} else {
			e.Vector = NormalizeVector(vec)
		}
	}
	d.meta[id] = e
	d.recent = lastN(append(d.recent, id), d.cfg.FallbackWindow)
	d.trackOwner(id, key)
	d.publishCountsLocked()
	return id
}

func (d *Deduplicator) publishCountsLocked() {
	d.entries.Store(int64(len(d.meta)))
	d.issued.Store(d.nextID)
}

// trackOwner remembers which entry first admitted a key and its signature
// bucket, so filter hits can point at an id
func (d *Deduplicator) trackOwner(id int64, key string) {
	if key == "" {
		return
	}
	if _, ok := d.keyOwners[ExactHash(key)]; !ok {
		d.keyOwners[ExactHash(key)] = id
	}
	if sig, ok := Simhash64(key); ok {
		if _, taken := d.bucketOwners[SignaturePrefix(sig)]; !taken {
			d.bucketOwners[SignaturePrefix(sig)] = id
		}
	}
}

func (d *Deduplicator) resolveOwnersLocked(decisions []types.Decision, keys []string) {
	for i := range decisions {
		dec := &decisions[i]
		if dec.MatchID != nil {
			continue
		}
		switch dec.Verdict {
		case types.VerdictExactDuplicate:
			if id, ok := d.keyOwners[ExactHash(keys[i])]; ok {
				dec.MatchID = &id
			}
		case types.VerdictNearDuplicate:
			if sig, ok := Simhash64(keys[i]); ok {
				if id, ok := d.bucketOwners[SignaturePrefix(sig)]; ok {
					dec.MatchID = &id
				}
			}
		}
	}
}

func (d *Deduplicator) logDecision(dec types.Decision) {
	ev := d.logger.Debug().
		Str("title", dec.Article.Title).
		Str("verdict", string(dec.Verdict)).
		Str("layer", string(dec.Layer))
	if dec.MatchID != nil {
		ev = ev.Int64("match_id", *dec.MatchID)
	}
	if dec.Similarity != nil {
		ev = ev.Float32("similarity", *dec.Similarity)
	}
	if dec.AssignedID != nil {
		ev = ev.Int64("assigned_id", *dec.AssignedID)
	}
	ev.Msg("decision")
}

// Save persists the current state
func (d *Deduplicator) Save(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saveLocked(ctx)
}

func (d *Deduplicator) saveLocked(ctx context.Context) error {
	return d.store.Save(ctx, d.index, d.meta, d.nextID)
}

// Store exposes the state store (mirror push/pull)
func (d *Deduplicator) Store() *Store { return d.store }

// Entry returns the admitted entry with the given id
func (d *Deduplicator) Entry(id int64) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.meta[id]
	return e, ok
}

// Stats reports current sizes. It does not take the batch lock, so a batch
// in flight may be partly counted.
func (d *Deduplicator) Stats() Stats {
	return Stats{
		Entries:            int(d.entries.Load()),
		Indexed:            d.index.Len(),
		NextID:             d.issued.Load(),
		ExactKeys:          d.exact.Len(),
		SignatureBuckets:   d.signature.Buckets(),
		EmbedModel:         d.gateway.ModelName(),
		ArbitrationEnabled: d.arbiter.Enabled(),
	}
}

// Close saves state and releases filter resources
func (d *Deduplicator) Close() error {
	err := d.Save(context.Background())
	if c, ok := d.exact.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func lastN(ids []int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	if len(ids) > n {
		ids = ids[len(ids)-n:]
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}
