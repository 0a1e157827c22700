// Package decisionlog keeps an audit trail of deduplication decisions in SQLite.
package decisionlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"newsdedup/types"
)

const (
	// DefaultRecentLimit is used when Recent is called with a non-positive limit
	DefaultRecentLimit = 50
	// MaxRecentLimit caps a single Recent read
	MaxRecentLimit = 1000
)

const schema = `
CREATE TABLE IF NOT EXISTS dedup_decisions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL,
    article_id TEXT,
    title TEXT,
    url TEXT,
    verdict TEXT NOT NULL,
    layer TEXT NOT NULL,
    match_id INTEGER,
    similarity REAL,
    assigned_id INTEGER,
    arbitrated INTEGER NOT NULL DEFAULT 0,
    decided_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dedup_decisions_batch ON dedup_decisions(batch_id);
CREATE INDEX IF NOT EXISTS idx_dedup_decisions_verdict ON dedup_decisions(verdict);
`

// Row is one stored decision
type Row struct {
	ID         int64         `json:"id"`
	BatchID    string        `json:"batch_id"`
	ArticleID  string        `json:"article_id,omitempty"`
	Title      string        `json:"title"`
	URL        string        `json:"url,omitempty"`
	Verdict    types.Verdict `json:"verdict"`
	Layer      types.Layer   `json:"layer"`
	MatchID    *int64        `json:"match_id,omitempty"`
	Similarity *float64      `json:"similarity,omitempty"`
	AssignedID *int64        `json:"assigned_id,omitempty"`
	Arbitrated bool          `json:"arbitrated"`
	DecidedAt  time.Time     `json:"decided_at"`
}

// SQLiteRecorder stores decisions in a local SQLite database
type SQLiteRecorder struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open creates (or opens) the decision database at path. ":memory:" keeps
// the log in memory.
func Open(path string, logger zerolog.Logger) (*SQLiteRecorder, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer; one connection also keeps :memory: shared
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRecorder{
		db:     db,
		logger: logger.With().Str("component", "decisionlog").Logger(),
	}, nil
}

// Record appends every decision of a batch in one transaction
func (r *SQLiteRecorder) Record(ctx context.Context, batchID string, decisions []types.Decision) error {
	if len(decisions) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dedup_decisions
			(batch_id, article_id, title, url, verdict, layer, match_id, similarity, assigned_id, arbitrated, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range decisions {
		decidedAt := d.DecidedAt
		if decidedAt.IsZero() {
			decidedAt = time.Now()
		}
		var similarity sql.NullFloat64
		if d.Similarity != nil {
			similarity = sql.NullFloat64{Float64: float64(*d.Similarity), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			batchID,
			d.Article.ID,
			d.Article.Title,
			d.Article.URL,
			string(d.Verdict),
			string(d.Layer),
			nullInt(d.MatchID),
			similarity,
			nullInt(d.AssignedID),
			d.Arbitrated,
			decidedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert decision: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	r.logger.Debug().Str("batch_id", batchID).Int("rows", len(decisions)).Msg("decisions recorded")
	return nil
}

// Recent returns the newest decisions first
func (r *SQLiteRecorder) Recent(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, batch_id, article_id, title, url, verdict, layer, match_id, similarity, assigned_id, arbitrated, decided_at
		FROM dedup_decisions
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row                 Row
			articleID, title    sql.NullString
			url                 sql.NullString
			verdict, layer      string
			matchID, assignedID sql.NullInt64
			similarity          sql.NullFloat64
			decidedAt           string
		)
		if err := rows.Scan(&row.ID, &row.BatchID, &articleID, &title, &url, &verdict, &layer,
			&matchID, &similarity, &assignedID, &row.Arbitrated, &decidedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		row.ArticleID = articleID.String
		row.Title = title.String
		row.URL = url.String
		row.Verdict = types.Verdict(verdict)
		row.Layer = types.Layer(layer)
		if matchID.Valid {
			row.MatchID = &matchID.Int64
		}
		if assignedID.Valid {
			row.AssignedID = &assignedID.Int64
		}
		if similarity.Valid {
			row.Similarity = &similarity.Float64
		}
		if t, err := time.Parse(time.RFC3339Nano, decidedAt); err == nil {
			row.DecidedAt = t
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountByVerdict tallies all recorded decisions
func (r *SQLiteRecorder) CountByVerdict(ctx context.Context) (map[types.Verdict]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT verdict, COUNT(*) FROM dedup_decisions GROUP BY verdict`)
	if err != nil {
		return nil, fmt.Errorf("count decisions: %w", err)
	}
	defer rows.Close()

	out := make(map[types.Verdict]int)
	for rows.Next() {
		var (
			verdict string
			n       int
		)
		if err := rows.Scan(&verdict, &n); err != nil {
			return nil, err
		}
		out[types.Verdict(verdict)] = n
	}
	return out, rows.Err()
}

// Close closes the database
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
