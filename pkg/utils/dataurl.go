package utils

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// IsDataURL reports whether raw is a data: URL.
func IsDataURL(raw string) bool {
	return strings.HasPrefix(raw, "data:")
}

// DecodeDataURL decodes a data: URL into its media type and payload bytes.
// The payload is base64-decoded when the ";base64" marker is present,
// otherwise treated as percent-encoded text.
func DecodeDataURL(raw string) (mediaType string, data []byte, err error) {
	if !IsDataURL(raw) {
		return "", nil, fmt.Errorf("%w: not a data URL", ErrParse)
	}
	rest := raw[len("data:"):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", nil, fmt.Errorf("%w: data URL missing comma separator", ErrParse)
	}

	meta, payload := rest[:comma], rest[comma+1:]
	isBase64 := false
	for _, part := range strings.Split(meta, ";") {
		if part == "base64" {
			isBase64 = true
		} else if mediaType == "" && strings.Contains(part, "/") {
			mediaType = part
		}
	}
	if mediaType == "" {
		mediaType = "text/plain"
	}

	if isBase64 {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// Some encoders omit padding
			data, err = base64.RawStdEncoding.DecodeString(payload)
		}
		if err != nil {
			return "", nil, fmt.Errorf("%w: base64 payload: %v", ErrParse, err)
		}
		return mediaType, data, nil
	}

	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: percent-encoded payload: %v", ErrParse, err)
	}
	return mediaType, []byte(decoded), nil
}
