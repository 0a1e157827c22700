package types

import "time"

// Verdict is the outcome of deduplicating one article
type Verdict string

const (
	VerdictNovel               Verdict = "novel"
	VerdictExactDuplicate      Verdict = "exact_duplicate"
	VerdictNearDuplicate       Verdict = "near_duplicate"
	VerdictSemanticDuplicate   Verdict = "semantic_duplicate"
	VerdictArbitratedDuplicate Verdict = "arbitrated_duplicate"
	VerdictFallbackDuplicate   Verdict = "fallback_duplicate"
)

// IsDuplicate reports whether the verdict drops the article
func (v Verdict) IsDuplicate() bool {
	return v != VerdictNovel && v != ""
}

// Layer names the pipeline stage that produced a verdict
type Layer string

const (
	LayerExact     Layer = "exact"
	LayerSignature Layer = "signature"
	LayerANN       Layer = "ann"
	LayerArbiter   Layer = "arbiter"
	LayerFallback  Layer = "fallback"
	LayerNone      Layer = "none"
)

// Decision explains what happened to one article in a batch.
// MatchID points at the admitted entry a duplicate refers to, when known.
// AssignedID is set only for novel articles.
type Decision struct {
	Article    Article   `json:"article"`
	Verdict    Verdict   `json:"verdict"`
	Layer      Layer     `json:"layer"`
	MatchID    *int64    `json:"match_id,omitempty"`
	Similarity *float32  `json:"similarity,omitempty"`
	AssignedID *int64    `json:"assigned_id,omitempty"`
	Arbitrated bool      `json:"arbitrated,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// BatchResult is the full outcome of one RemoveDuplicates call
type BatchResult struct {
	BatchID   string     `json:"batch_id"`
	Decisions []Decision `json:"decisions"`
	Novel     []Article  `json:"novel"`
	Started   time.Time  `json:"started"`
	Finished  time.Time  `json:"finished"`
}

// Counts tallies decisions by verdict
func (r BatchResult) Counts() map[Verdict]int {
	out := make(map[Verdict]int)
	for _, d := range r.Decisions {
		out[d.Verdict]++
	}
	return out
}

// DuplicateCount returns how many articles were dropped
func (r BatchResult) DuplicateCount() int {
	n := 0
	for _, d := range r.Decisions {
		if d.Verdict.IsDuplicate() {
			n++
		}
	}
	return n
}
