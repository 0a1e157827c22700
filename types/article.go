package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Article is a single news item handed to the deduplication engine.
// Only Title and Description take part in duplicate detection; the rest is
// carried through as payload.
type Article struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content,omitempty"`
	Source      string    `json:"source,omitempty"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// ArticleBatch is the wire shape for a batch of articles (Kafka, HTTP, files)
type ArticleBatch struct {
	BatchID  string    `json:"batch_id,omitempty"`
	Articles []Article `json:"articles"`
}

// GenerateID creates a unique ID from URL
func GenerateID(url string) string {
	hash := sha256.Sum256([]byte(url))
	return hex.EncodeToString(hash[:])[:16]
}

// EnsureID fills in ID from the URL (or title when there is no URL)
func (a *Article) EnsureID() {
	if a.ID != "" {
		return
	}
	if a.URL != "" {
		a.ID = GenerateID(a.URL)
		return
	}
	if a.Title != "" {
		a.ID = GenerateID(a.Title)
	}
}
