package fetch

import (
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"

	"comic-archiver/pkg/utils"
)

// DecodeBody decodes a response body to text, trying in order: the charset
// declared in the Content-Type header, UTF-8, heuristic detection, and
// legacy Latin/ASCII fallbacks. All failing yields ErrParse.
func DecodeBody(body []byte, contentType string) (string, error) {
	// 1. Server-declared charset
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			if name := params["charset"]; name != "" {
				if enc, err := htmlindex.Get(name); err == nil {
					if text, ok := tryDecode(body, enc); ok {
						return text, nil
					}
				}
			}
		}
	}

	// 2. UTF-8
	if utf8.Valid(body) {
		return string(body), nil
	}

	// 3. Heuristic detection
	detector := chardet.NewTextDetector()
	if result, err := detector.DetectBest(body); err == nil && result != nil {
		if enc, err := htmlindex.Get(strings.ToLower(result.Charset)); err == nil {
			if text, ok := tryDecode(body, enc); ok {
				return text, nil
			}
		}
	}

	// 4. Legacy Latin fallbacks
	for _, enc := range []encoding.Encoding{charmap.Windows1252, charmap.ISO8859_1} {
		if text, ok := tryDecode(body, enc); ok {
			return text, nil
		}
	}

	return "", fmt.Errorf("%w: body not decodable as text", utils.ErrParse)
}

// tryDecode decodes body with enc, rejecting results that still are not
// valid UTF-8.
func tryDecode(body []byte, enc encoding.Encoding) (string, bool) {
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", false
	}
	if !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}
