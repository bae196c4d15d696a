// Package profile implements the portable JSON description of a source:
// everything needed to re-create a scraping target on another installation,
// but none of its crawl state.
package profile

import (
	"encoding/json"
	"fmt"

	"comic-archiver/pkg/models"
	"comic-archiver/pkg/utils"
)

// Version is the profile document version written on export.
const Version = 1

// requiredKeys must all be present in an imported profile document.
var requiredKeys = []string{
	"version",
	"name",
	"author",
	"descriptionText",
	"url",
	"firstPageURL",
	"selectorImage",
	"selectorTitle",
	"selectorNext",
}

// Export renders a source as a pretty-printed JSON object with sorted keys
// (map marshaling sorts keys in the standard library).
func Export(src *models.Source) ([]byte, error) {
	doc := map[string]interface{}{
		"version":         Version,
		"name":            src.Name,
		"author":          src.Author,
		"descriptionText": src.Description,
		"url":             src.HomeURL,
		"firstPageURL":    src.FirstPageURL,
		"selectorImage":   src.SelectorImage,
		"selectorTitle":   src.SelectorTitle,
		"selectorNext":    src.SelectorNext,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrProfileInvalid, err)
	}
	return append(data, '\n'), nil
}

// Import parses and validates a profile document, returning a source with
// its descriptive fields populated. The caller assigns the ID and timestamps.
// A document whose root is not a JSON object, or that is missing any
// required key, fails with a validation error.
func Import(data []byte) (*models.Source, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: root is not a JSON object: %v", utils.ErrProfileInvalid, err)
	}
	for _, key := range requiredKeys {
		if _, ok := doc[key]; !ok {
			return nil, fmt.Errorf("%w: missing required key %q", utils.ErrProfileInvalid, key)
		}
	}

	str := func(key string) string {
		var s string
		json.Unmarshal(doc[key], &s)
		return s
	}
	return &models.Source{
		Name:          str("name"),
		Author:        str("author"),
		Description:   str("descriptionText"),
		HomeURL:       str("url"),
		FirstPageURL:  str("firstPageURL"),
		SelectorImage: str("selectorImage"),
		SelectorTitle: str("selectorTitle"),
		SelectorNext:  str("selectorNext"),
	}, nil
}
