package deduplication

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"newsdedup/types"
)

// Oracle answers free-form questions; the arbitrator only reads a leading YES
type Oracle interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Arbitrator decides borderline pairs by asking an oracle whether two
// articles report the same event. Every failure answers "no".
type Arbitrator struct {
	oracle  Oracle
	timeout time.Duration
	logger  zerolog.Logger
}

// NewArbitrator wraps oracle; a nil oracle makes SameEvent always false
func NewArbitrator(oracle Oracle, timeout time.Duration, logger zerolog.Logger) *Arbitrator {
	if timeout <= 0 {
		timeout = DefaultArbitrationTimeout
	}
	return &Arbitrator{
		oracle:  oracle,
		timeout: timeout,
		logger:  logger.With().Str("component", "arbitrator").Logger(),
	}
}

// Enabled reports whether an oracle is wired in
func (a *Arbitrator) Enabled() bool {
	return a != nil && a.oracle != nil
}

// SameEvent reports whether a and b describe the same core event
func (a *Arbitrator) SameEvent(ctx context.Context, x, y types.Article) bool {
	if !a.Enabled() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply, err := a.oracle.Ask(ctx, ArbitrationPrompt(x, y))
	if err != nil {
		a.logger.Warn().Err(err).Str("title", x.Title).Msg("arbitration failed; keeping article")
		return false
	}
	same := ParseYes(reply)
	a.logger.Debug().Str("a", x.Title).Str("b", y.Title).Bool("same_event", same).Msg("arbitrated")
	return same
}

// ArbitrationPrompt builds the yes/no question for two articles
func ArbitrationPrompt(x, y types.Article) string {
	return fmt.Sprintf(`You are a news analyst. Determine if these two articles report the same core event.

Article 1:
TITLE: %s
SUMMARY: %s

Article 2:
TITLE: %s
SUMMARY: %s

Respond with YES or NO.`,
		x.Title, truncateRunes(x.Description, SummaryChars),
		y.Title, truncateRunes(y.Description, SummaryChars))
}

// ParseYes is true only for replies that start with YES
func ParseYes(reply string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(reply)), "YES")
}
