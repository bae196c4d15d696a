package extract

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selectors holds the three user-supplied CSS selectors driving extraction.
type Selectors struct {
	Title string
	Image string
	Next  string
}

// Result is what one page yields: a title (may be empty), an ordered,
// de-duplicated list of absolute image URLs, and the resolved next-page link
// (empty when the page has none).
type Result struct {
	Title     string
	ImageURLs []string
	NextURL   string
}

// Extract applies the selectors to a parsed document. An empty image selector
// yields an empty image list; an empty or unmatched title/next selector
// yields no title / no next link. None of these are errors.
func Extract(doc *goquery.Document, base *url.URL, sel Selectors) Result {
	var res Result

	if sel.Title != "" {
		if match := doc.Find(sel.Title).First(); match.Length() > 0 {
			res.Title = strings.TrimSpace(match.Text())
		}
	}

	if sel.Image != "" {
		seen := make(map[string]struct{})
		doc.Find(sel.Image).Each(func(_ int, el *goquery.Selection) {
			raw := imageURLOf(el)
			if raw == "" {
				return
			}
			abs := resolveURL(base, raw)
			if abs == "" {
				return
			}
			if _, dup := seen[abs]; dup {
				return
			}
			seen[abs] = struct{}{}
			res.ImageURLs = append(res.ImageURLs, abs)
		})
	}

	if sel.Next != "" {
		if match := doc.Find(sel.Next).First(); match.Length() > 0 {
			if href, ok := match.Attr("href"); ok && strings.TrimSpace(href) != "" {
				res.NextURL = resolveURL(base, strings.TrimSpace(href))
			}
		}
	}

	return res
}

// imageURLOf picks the best URL attribute of an img element: the widest
// srcset candidate, else src, else data-src. Empty means no usable URL.
func imageURLOf(el *goquery.Selection) string {
	if srcset, ok := el.Attr("srcset"); ok {
		if u := widestSrcsetCandidate(srcset); u != "" {
			return u
		}
	}
	if src, ok := el.Attr("src"); ok && strings.TrimSpace(src) != "" {
		return strings.TrimSpace(src)
	}
	if src, ok := el.Attr("data-src"); ok && strings.TrimSpace(src) != "" {
		return strings.TrimSpace(src)
	}
	return ""
}

// widestSrcsetCandidate parses a srcset attribute (comma-separated
// "url width-descriptor" pairs) and returns the URL with the largest parsed
// width. Candidates with an unparsable or absent width count as width 0.
func widestSrcsetCandidate(srcset string) string {
	bestURL := ""
	bestWidth := -1
	for _, candidate := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(candidate))
		if len(fields) == 0 {
			continue
		}
		width := 0
		if len(fields) > 1 {
			desc := fields[1]
			if w, err := strconv.Atoi(strings.TrimSuffix(desc, "w")); err == nil && strings.HasSuffix(desc, "w") {
				width = w
			}
		}
		if width > bestWidth {
			bestWidth = width
			bestURL = fields[0]
		}
	}
	return bestURL
}

// resolveURL resolves raw against base. data: URLs pass through unresolved.
func resolveURL(base *url.URL, raw string) string {
	if strings.HasPrefix(raw, "data:") {
		return raw
	}
	if base == nil {
		return raw
	}
	resolved, err := base.Parse(raw)
	if err != nil {
		return ""
	}
	return resolved.String()
}
