package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"newsdedup/config"
	"newsdedup/types"
)

// Processor runs one batch through the deduplicator
type Processor interface {
	Process(ctx context.Context, articles []types.Article) types.BatchResult
}

// Publisher forwards novel articles downstream
type Publisher interface {
	Publish(msgs []NovelArticle) error
}

// NewDedupHandler decodes ArticleBatch messages, deduplicates them and
// publishes the novel articles. Empty or oversized batches are marked and
// skipped.
//
// Once a batch is processed its articles are committed, so a redelivered
// message would only yield duplicates. Novel articles that cannot be
// published after retries are kept in an outbox and sent before the next
// batch is processed; until that succeeds no further message is handled or
// marked.
func NewDedupHandler(dedup Processor, pub Publisher, logger zerolog.Logger) *TypedMessageHandler[types.ArticleBatch] {
	return newDedupHandler(dedup, pub, config.PublishAttempts, config.PublishBackoff, logger)
}

func newDedupHandler(dedup Processor, pub Publisher, attempts int, backoff time.Duration, logger zerolog.Logger) *TypedMessageHandler[types.ArticleBatch] {
	logger = logger.With().Str("component", "kafka-worker").Logger()
	box := &outbox{pub: pub, attempts: max(attempts, 1), backoff: backoff, logger: logger}

	return &TypedMessageHandler[types.ArticleBatch]{
		AlwaysMark: true,
		Logger:     logger,
		Validate: func(b *types.ArticleBatch) bool {
			switch {
			case len(b.Articles) == 0:
				logger.Warn().Str("batch_id", b.BatchID).Msg("skipping empty batch")
				return false
			case len(b.Articles) > config.MaxBatchArticles:
				logger.Warn().Str("batch_id", b.BatchID).Int("articles", len(b.Articles)).Msg("skipping oversized batch")
				return false
			}
			return true
		},
		Process: func(ctx context.Context, b *types.ArticleBatch) error {
			if err := box.send(ctx, nil); err != nil {
				return fmt.Errorf("outbox not drained, batch %q left for redelivery: %w", b.BatchID, err)
			}

			for i := range b.Articles {
				b.Articles[i].EnsureID()
			}
			res := dedup.Process(ctx, b.Articles)

			batchID := b.BatchID
			if batchID == "" {
				batchID = res.BatchID
			}
			msgs := make([]NovelArticle, 0, len(res.Novel))
			for _, d := range res.Decisions {
				if d.Verdict != types.VerdictNovel || d.AssignedID == nil {
					continue
				}
				msgs = append(msgs, NovelArticle{BatchID: batchID, AssignedID: *d.AssignedID, Article: d.Article})
			}

			logger.Info().
				Str("batch_id", batchID).
				Int("articles", len(b.Articles)).
				Int("novel", len(msgs)).
				Msg("batch consumed")
			return box.send(ctx, msgs)
		},
	}
}

// outbox holds novel articles whose publish failed. It lives in process
// memory only.
type outbox struct {
	pub      Publisher
	attempts int
	backoff  time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	pending []NovelArticle
}

// send publishes everything pending plus msgs, retrying with a doubling
// backoff. Whatever is still unpublished afterwards stays pending.
func (o *outbox) send(ctx context.Context, msgs []NovelArticle) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending = append(o.pending, msgs...)
	if len(o.pending) == 0 {
		return nil
	}

	wait := o.backoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = o.pub.Publish(o.pending); err == nil {
			o.pending = nil
			return nil
		}
		o.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("pending", len(o.pending)).
			Msg("publish failed")
		if attempt >= o.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("publish %d novel article(s): %w", len(o.pending), ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("publish %d novel article(s): %w", len(o.pending), err)
}
