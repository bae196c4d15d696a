package models

import "time"

// Source is a configured scraping target (one web comic). Counters are
// maintained by the crawler and downloader; the cover blob lives in the
// catalog store under a separate key.
type Source struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Author        string    `json:"author,omitempty"`
	Description   string    `json:"description,omitempty"`
	HomeURL       string    `json:"home_url,omitempty"`
	FirstPageURL  string    `json:"first_page_url"`
	SelectorTitle string    `json:"selector_title,omitempty"`
	SelectorImage string    `json:"selector_image"`
	SelectorNext  string    `json:"selector_next,omitempty"`
	HasCover      bool      `json:"has_cover,omitempty"`
	PageCount     int       `json:"page_count"`
	ImageCount    int       `json:"image_count"`
	Downloaded    int       `json:"downloaded"` // Count of images with a file on disk
	CreatedAt     time.Time `json:"created_at"`
}

// Page is one crawled page belonging to a Source. Index is 1-based, unique
// and monotonically assigned per source; indices are never reused or
// renumbered after creation.
type Page struct {
	Index  int     `json:"index"`
	Title  string  `json:"title,omitempty"`
	URL    string  `json:"url"`
	Images []Image `json:"images"`
}

// Image is one image reference within a Page. Index is the 0-based position
// within the page. A non-empty DownloadPath means a file is believed to exist
// at that path until reconciliation says otherwise.
type Image struct {
	Index        int    `json:"index"`
	URL          string `json:"url"` // Remote URL or a data: URL
	DownloadPath string `json:"download_path,omitempty"`
}

// PendingRecord is an extracted (pageURL, imageURL, title) triple buffered by
// one crawl invocation before it is committed into Page/Image entities.
type PendingRecord struct {
	PageURL  string
	ImageURL string
	Title    string
}

// DownloadResult is the outcome of one download task, applied to the catalog
// by the scheduler's owner loop, never by the worker that produced it.
type DownloadResult struct {
	PageIndex  int
	ImageIndex int
	FinalPath  string
	Wrote      bool   // A new file was written to FinalPath
	CoverBytes []byte // Non-nil when this write should become the source cover
}

// CrawlStats summarizes one crawl invocation.
type CrawlStats struct {
	PagesAdded  int
	ImagesAdded int
	ReachedCap  bool
}

// DownloadStats summarizes one download run.
type DownloadStats struct {
	Scheduled int
	Written   int
	Skipped   int // Already present, or reported not-written
	Failed    int
}
