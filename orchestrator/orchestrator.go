// Package orchestrator runs article files through the deduplicator.
package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"newsdedup/types"
)

// Processor runs one batch through the deduplicator
type Processor interface {
	Process(ctx context.Context, articles []types.Article) types.BatchResult
}

// ObjectWriter stores a single object (common.S3 satisfies it)
type ObjectWriter interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error
}

// DecodeArticles reads either a JSON array of articles or an ArticleBatch object
func DecodeArticles(in io.Reader) ([]types.Article, error) {
	br := bufio.NewReader(in)
	first, err := firstNonSpace(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("input is empty")
		}
		return nil, err
	}

	dec := json.NewDecoder(br)
	switch first {
	case '[':
		var articles []types.Article
		if err := dec.Decode(&articles); err != nil {
			return nil, fmt.Errorf("failed to decode article list: %w", err)
		}
		return articles, nil
	case '{':
		var batch types.ArticleBatch
		if err := dec.Decode(&batch); err != nil {
			return nil, fmt.Errorf("failed to decode article batch: %w", err)
		}
		return batch.Articles, nil
	default:
		return nil, fmt.Errorf("expected a JSON array or object, found %q", first)
	}
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// RunFile decodes articles from in, deduplicates them as one batch and logs
// one line per decision plus the summary block
func RunFile(ctx context.Context, dedup Processor, in io.Reader, logger zerolog.Logger) (types.BatchResult, error) {
	articles, err := DecodeArticles(in)
	if err != nil {
		return types.BatchResult{}, err
	}
	for i := range articles {
		articles[i].EnsureID()
	}
	logger.Info().Int("articles", len(articles)).Msg("processing articles for deduplication")

	res := dedup.Process(ctx, articles)
	for i, d := range res.Decisions {
		ev := logger.Info().
			Str("progress", fmt.Sprintf("%d/%d", i+1, len(res.Decisions))).
			Str("title", d.Article.Title).
			Str("verdict", string(d.Verdict))
		if d.Similarity != nil {
			ev = ev.Float32("similarity", *d.Similarity)
		}
		if d.MatchID != nil {
			ev = ev.Int64("match_id", *d.MatchID)
		}
		if d.AssignedID != nil {
			ev = ev.Int64("assigned_id", *d.AssignedID)
		}
		ev.Msg("article")
	}

	logger.Info().Msg("\n" + Summary(res))
	return res, nil
}

// Summary renders the plain-text summary block
func Summary(res types.BatchResult) string {
	counts := res.Counts()
	var b strings.Builder
	b.WriteString("=== Deduplication Summary ===\n")
	fmt.Fprintf(&b, "Total Articles:     %d\n", len(res.Decisions))
	fmt.Fprintf(&b, "New Articles:       %d\n", len(res.Novel))
	fmt.Fprintf(&b, "Duplicate Articles: %d\n", res.DuplicateCount())
	for _, v := range []types.Verdict{
		types.VerdictExactDuplicate,
		types.VerdictNearDuplicate,
		types.VerdictSemanticDuplicate,
		types.VerdictArbitratedDuplicate,
		types.VerdictFallbackDuplicate,
	} {
		if n := counts[v]; n > 0 {
			fmt.Fprintf(&b, "  %-20s %d\n", v+":", n)
		}
	}
	fmt.Fprintf(&b, "Took:               %s\n", res.Finished.Sub(res.Started).Round(time.Millisecond))
	b.WriteString("=============================")
	return b.String()
}

// UploadNovel writes a JSON record of every novel article to
// <prefix>/articles/<id>.json and returns how many were stored
func UploadNovel(ctx context.Context, w ObjectWriter, bucket, prefix string, res types.BatchResult, logger zerolog.Logger) int {
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		prefix += "/"
	}
	uploaded := 0
	for _, a := range res.Novel {
		if a.ID == "" {
			continue
		}
		a.Content = stripImagesFromHTML(a.Content)
		body, err := json.MarshalIndent(a, "", "  ")
		if err != nil {
			logger.Warn().Err(err).Str("article_id", a.ID).Msg("failed to encode article")
			continue
		}

		uctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = w.Put(uctx, bucket, prefix+"articles/"+a.ID+".json", bytes.NewReader(body), "application/json")
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("article_id", a.ID).Msg("s3 upload failed")
			continue
		}
		uploaded++
	}
	logger.Info().Int("uploaded", uploaded).Str("bucket", bucket).Msg("s3 uploads complete")
	return uploaded
}

var imgTagRe = regexp.MustCompile(`(?i)<img\b[^>]*>`)

func stripImagesFromHTML(html string) string {
	if strings.TrimSpace(html) == "" {
		return html
	}
	return imgTagRe.ReplaceAllString(html, "")
}
