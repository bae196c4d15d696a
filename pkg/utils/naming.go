package utils

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
)

// illegalNameChars are stripped (not replaced) from source names and page
// titles before they are used as filesystem path components.
const illegalNameChars = `/\?%*|"<>:`

// SanitizeName removes characters that are invalid in filenames on common
// platforms. Unlike replacement-based sanitizers this strips them outright,
// so "Name: Subtitle" and "Name Subtitle" collapse to similar folder names.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if strings.ContainsRune(illegalNameChars, r) || r < 0x20 {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// PageFilename builds the canonical filename for a downloaded page image:
//
//	{5-digit zero-padded page index}[-{subIndex}][ {sanitized title}].{ext}
//
// subIndex is 1-based and only present when the page holds more than one
// image. ext is given without a leading dot.
func PageFilename(pageIndex, imageIndex, imageCount int, title, ext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%05d", pageIndex)
	if imageCount > 1 {
		fmt.Fprintf(&b, "-%d", imageIndex+1)
	}
	if t := SanitizeName(title); t != "" {
		b.WriteByte(' ')
		b.WriteString(t)
	}
	b.WriteByte('.')
	b.WriteString(ext)
	return b.String()
}

// ExtensionFor resolves the file extension for a downloaded image, preferring
// the response Content-Type, then the URL path's extension, then "png".
// The result carries no leading dot.
func ExtensionFor(contentType, rawURL string) string {
	if contentType != "" {
		if mimeType, _, err := mime.ParseMediaType(contentType); err == nil {
			if ext, ok := extensionForMIME(mimeType); ok {
				return ext
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.TrimPrefix(path.Ext(u.Path), "."); ext != "" && len(ext) <= 5 {
			return strings.ToLower(ext)
		}
	}
	return "png"
}

// extensionForMIME maps common image MIME types to their preferred extension,
// falling back to the platform MIME registry.
func extensionForMIME(mimeType string) (string, bool) {
	switch mimeType {
	case "image/jpeg":
		return "jpg", true
	case "image/png":
		return "png", true
	case "image/gif":
		return "gif", true
	case "image/webp":
		return "webp", true
	case "image/svg+xml":
		return "svg", true
	case "image/bmp":
		return "bmp", true
	case "image/avif":
		return "avif", true
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", false
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], "."), true
	}
	return "", false
}
