// Package textutil provides text normalization used by ingestion and
// summarization.
package textutil

import "regexp"

// MaxArticleContentLength caps stored article content (characters after
// HTML strip).
const MaxArticleContentLength = 8000

// MaxSummaryInputLength caps the content sent to the LLM, keeping token
// usage predictable.
const MaxSummaryInputLength = 4000

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// StripHTML removes HTML tags with a simple tag-stripping pass. It does
// not decode entities or handle malformed markup beyond tag removal.
func StripHTML(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}

// Truncate caps s at max runes.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
