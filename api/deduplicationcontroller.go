package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"newsdedup/config"
	"newsdedup/decisionlog"
	"newsdedup/deduplication"
	"newsdedup/types"
)

// Engine is the part of the deduplicator the API drives
type Engine interface {
	Process(ctx context.Context, articles []types.Article) types.BatchResult
	Stats() deduplication.Stats
	Save(ctx context.Context) error
}

// DecisionLog reads back recorded decisions
type DecisionLog interface {
	Recent(ctx context.Context, limit int) ([]decisionlog.Row, error)
	CountByVerdict(ctx context.Context) (map[types.Verdict]int, error)
}

// DeduplicationController serves the /api/deduplication routes
type DeduplicationController struct {
	dedup     Engine
	decisions DecisionLog
	logger    zerolog.Logger
}

// NewDeduplicationController creates a controller
func NewDeduplicationController(dedup Engine, decisions DecisionLog, logger zerolog.Logger) *DeduplicationController {
	return &DeduplicationController{
		dedup:     dedup,
		decisions: decisions,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// RegisterDeduplicationRoutes registers deduplication service endpoints.
func RegisterDeduplicationRoutes(r *gin.Engine, ctl *DeduplicationController) {
	g := r.Group("/api/deduplication")
	g.POST("/remove", ctl.handleRemove)
	g.POST("/check", ctl.handleCheck)
	g.GET("/stats", ctl.handleStats)
	g.GET("/decisions", ctl.handleDecisions)
	g.POST("/save", ctl.handleSave)
}

// RemoveRequest is a batch of articles to deduplicate
type RemoveRequest struct {
	Articles []types.Article `json:"articles"`
}

// CheckRequest is a single article to deduplicate
type CheckRequest struct {
	Article *types.Article `json:"article" binding:"required"`
}

// BatchResponse represents the response from deduplicating a batch
type BatchResponse struct {
	BatchID   string                `json:"batch_id"`
	Novel     []types.Article       `json:"novel"`
	Decisions []types.Decision      `json:"decisions"`
	Counts    map[types.Verdict]int `json:"counts"`
	Took      string                `json:"took"`
}

// StatsResponse is the engine state plus recorded verdict totals
type StatsResponse struct {
	deduplication.Stats
	Verdicts map[types.Verdict]int `json:"verdicts,omitempty"`
}

func newBatchResponse(res types.BatchResult) BatchResponse {
	return BatchResponse{
		BatchID:   res.BatchID,
		Novel:     res.Novel,
		Decisions: res.Decisions,
		Counts:    res.Counts(),
		Took:      res.Finished.Sub(res.Started).Round(time.Millisecond).String(),
	}
}

// handleRemove deduplicates a batch and returns the novel articles, longest first
func (ctl *DeduplicationController) handleRemove(c *gin.Context) {
	var req RemoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Articles) > config.MaxBatchArticles {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("batch of %d articles exceeds the limit of %d", len(req.Articles), config.MaxBatchArticles),
		})
		return
	}
	for i := range req.Articles {
		req.Articles[i].EnsureID()
	}

	res := ctl.dedup.Process(c.Request.Context(), req.Articles)
	c.JSON(http.StatusOK, newBatchResponse(res))
}

// handleCheck runs a single article as its own batch
func (ctl *DeduplicationController) handleCheck(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Article.EnsureID()

	res := ctl.dedup.Process(c.Request.Context(), []types.Article{*req.Article})
	c.JSON(http.StatusOK, newBatchResponse(res))
}

// handleStats returns engine sizes and, when logged, verdict totals
func (ctl *DeduplicationController) handleStats(c *gin.Context) {
	resp := StatsResponse{Stats: ctl.dedup.Stats()}
	if ctl.decisions != nil {
		counts, err := ctl.decisions.CountByVerdict(c.Request.Context())
		if err != nil {
			ctl.logger.Warn().Err(err).Msg("failed to count decisions")
		} else {
			resp.Verdicts = counts
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleDecisions returns the most recent decision rows
func (ctl *DeduplicationController) handleDecisions(c *gin.Context) {
	if ctl.decisions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "decision log is not configured (set DECISION_DB)"})
		return
	}

	limit := decisionlog.DefaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	rows, err := ctl.decisions.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read decisions: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": rows, "count": len(rows)})
}

// handleSave forces a state save
func (ctl *DeduplicationController) handleSave(c *gin.Context) {
	if err := ctl.dedup.Save(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save state: " + err.Error()})
		return
	}
	stats := ctl.dedup.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":  "saved",
		"entries": stats.Entries,
		"next_id": stats.NextID,
	})
}
