package deduplication

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"newsdedup/types"
)

// Normalize lowercases s, drops control characters, collapses whitespace
// runs to a single space and trims the result.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CanonicalKey is the text every hash and signature is computed from.
// An article with an empty description keys on its title alone.
func CanonicalKey(a types.Article) string {
	title := Normalize(a.Title)
	key := strings.TrimSpace(title + " " + Normalize(a.Description))
	if key == "" {
		return title
	}
	return key
}

// EmbedPayload builds the text sent to the embedding provider
func EmbedPayload(a types.Article) string {
	return truncateRunes(strings.TrimSpace(a.Title)+"\n\n"+strings.TrimSpace(a.Description), MaxEmbedChars)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
