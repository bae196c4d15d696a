package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean name untouched", "Gunnerkrigg Court", "Gunnerkrigg Court"},
		{"illegal chars stripped", `a/b\c?d%e*f|g"h<i>j:k`, "abcdefghijk"},
		{"control chars stripped", "page\x00\x1ftitle", "pagetitle"},
		{"surrounding space trimmed", "  spaced  ", "spaced"},
		{"unicode preserved", "Überwelt 第1話", "Überwelt 第1話"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}

func TestPageFilename(t *testing.T) {
	t.Run("multi-image page gets 1-based sub indices", func(t *testing.T) {
		assert.Equal(t, "00007-1.png", PageFilename(7, 0, 3, "", "png"))
		assert.Equal(t, "00007-2.png", PageFilename(7, 1, 3, "", "png"))
		assert.Equal(t, "00007-3.png", PageFilename(7, 2, 3, "", "png"))
	})

	t.Run("single-image page has no sub index", func(t *testing.T) {
		assert.Equal(t, "00007.jpg", PageFilename(7, 0, 1, "", "jpg"))
	})

	t.Run("title is sanitized and appended after a space", func(t *testing.T) {
		assert.Equal(t, "00042 The Gathering Storm.png", PageFilename(42, 0, 1, "The Gathering: Storm", "png"))
	})

	t.Run("title on multi-image page follows the sub index", func(t *testing.T) {
		assert.Equal(t, "00003-2 Interlude.gif", PageFilename(3, 1, 2, "Interlude", "gif"))
	})
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		url         string
		want        string
	}{
		{"content type wins", "image/jpeg", "https://x.test/a.png", "jpg"},
		{"content type with params", "image/png; charset=binary", "https://x.test/a", "png"},
		{"webp", "image/webp", "", "webp"},
		{"url extension fallback", "", "https://x.test/strip.gif?v=2", "gif"},
		{"png default", "", "https://x.test/image", "png"},
		{"non-image content type ignored", "text/html", "https://x.test/a.jpeg", "jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtensionFor(tt.contentType, tt.url))
		})
	}
}

func TestRefKey(t *testing.T) {
	a := RefKey("https://x.test/p1", "https://x.test/i1")
	b := RefKey("https://x.test/p1", "https://x.test/i2")
	c := RefKey("https://x.test/p1", "https://x.test/i1")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)

	// The separator keeps (ab, c) distinct from (a, bc)
	assert.NotEqual(t, RefKey("ab", "c"), RefKey("a", "bc"))
}
