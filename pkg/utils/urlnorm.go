package utils

import (
	"net"
	"net/url"
	"strings"
)

// CanonicalPageURL standardizes a page URL for visited-set and cycle
// comparisons: lowercased scheme and host, default ports removed, fragment
// dropped. The query string is kept because many comics address pages with
// it. The input URL is not modified and the raw URL stays the stored
// identity; the canonical form is a comparison key only.
func CanonicalPageURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	canon := *u

	canon.Scheme = strings.ToLower(canon.Scheme)
	canon.Host = strings.ToLower(canon.Host)

	host, port, err := net.SplitHostPort(canon.Host)
	if err == nil {
		if (canon.Scheme == "http" && port == "80") ||
			(canon.Scheme == "https" && port == "443") {
			canon.Host = host
		}
	}

	canon.Fragment = ""
	return canon.String()
}

// CanonicalURL parses and canonicalizes a URL string. Unparsable strings are
// returned as-is so they still work as map keys.
func CanonicalURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return CanonicalPageURL(parsed)
}
