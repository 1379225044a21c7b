package textutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "Hello world", StripHTML("<p>Hello <b>world</b></p>"))
	assert.Equal(t, "plain text", StripHTML("plain text"))
	assert.Equal(t, "linked", StripHTML(`<a href="https://example.com">linked</a>`))
	assert.Equal(t, "", StripHTML("<br/>"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "", Truncate("", 5))

	// Rune-safe: never splits a multi-byte character.
	assert.Equal(t, "hél", Truncate("héllo", 3))
}

func TestTruncateLongContent(t *testing.T) {
	long := strings.Repeat("x", MaxArticleContentLength+500)
	got := Truncate(long, MaxArticleContentLength)
	assert.Len(t, got, MaxArticleContentLength)
}
