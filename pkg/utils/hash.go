package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// RefKey derives the stable dedup key for a (pageURL, imageURL) pair. The
// pair is unique across a source's whole catalog; hashing keeps store keys
// bounded regardless of URL length.
func RefKey(pageURL, imageURL string) string {
	hash := sha256.New()
	hash.Write([]byte(pageURL))
	hash.Write([]byte{0})
	hash.Write([]byte(imageURL))
	return hex.EncodeToString(hash.Sum(nil))
}
