package crawl

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"comic-archiver/pkg/catalog"
	"comic-archiver/pkg/config"
	"comic-archiver/pkg/extract"
	"comic-archiver/pkg/fetch"
	"comic-archiver/pkg/models"
	"comic-archiver/pkg/utils"
)

// Crawler walks a source page by page, extracting image references and
// committing them to the catalog in batches. One crawl invocation is a
// single logical sequence: one page fetched, parsed and processed at a time.
type Crawler struct {
	store   *catalog.Store
	gate    *catalog.Gate
	fetcher *fetch.Fetcher
	cfg     *config.AppConfig
	log     *logrus.Logger
}

// NewCrawler creates a Crawler sharing the catalog store and Write Gate with
// any concurrently running downloader.
func NewCrawler(store *catalog.Store, gate *catalog.Gate, fetcher *fetch.Fetcher, cfg *config.AppConfig, log *logrus.Logger) *Crawler {
	return &Crawler{
		store:   store,
		gate:    gate,
		fetcher: fetcher,
		cfg:     cfg,
		log:     log,
	}
}

// fetchState is the crawl cursor. It is owned exclusively by one Run
// invocation and never shared.
type fetchState struct {
	currentURL    string
	previousURL   string // Used as Referer for the current fetch
	visited       map[string]struct{}
	pending       []models.PendingRecord
	dedup         map[string]struct{} // RefKey window seeded from the catalog
	pagesPending  int                 // New pages buffered or committed this run
	coverCaptured bool
	sinceCommit   int
	reachedCap    bool
	stats         models.CrawlStats
}

// Run crawls the source until a terminal condition: page cap reached, cycle
// detected, a page without images (end of comic), a missing next link, a
// fetch error, or cancellation. On every termination path a best-effort
// final flush of pending records is attempted; its failure is swallowed
// because an uncommitted batch is simply re-derived by the next run.
func (c *Crawler) Run(ctx context.Context, source *models.Source) (stats models.CrawlStats, err error) {
	runLog := c.log.WithField("source", source.Name)

	if strings.TrimSpace(source.SelectorImage) == "" {
		return models.CrawlStats{}, &utils.SelectorError{Name: "image"}
	}

	// Don't seed the cursor from mid-commit state
	if err := c.gate.Wait(ctx); err != nil {
		return models.CrawlStats{}, err
	}
	state, err := c.newFetchState(source)
	if err != nil {
		return models.CrawlStats{}, err
	}
	firstEverCrawl := source.PageCount == 0

	sel := extract.Selectors{
		Title: source.SelectorTitle,
		Image: source.SelectorImage,
		Next:  source.SelectorNext,
	}

	// The final flush may commit records, so stats are re-read after it runs
	defer func() {
		c.finalFlush(source.ID, state, runLog)
		stats = state.stats
	}()

	for {
		if err := ctx.Err(); err != nil {
			runLog.Warnf("Crawl cancelled: %v", err)
			return state.stats, err
		}
		if c.cfg.MaxPages > 0 && state.pagesPending >= c.cfg.MaxPages {
			state.stats.ReachedCap = true
			return state.stats, nil
		}
		// Visited tracking uses a canonical form so fragment or default-port
		// variants of a page cannot defeat the cycle guard
		pageKey := utils.CanonicalURL(state.currentURL)
		if _, looped := state.visited[pageKey]; looped {
			runLog.WithField("url", state.currentURL).Info("Next link points to a visited page, stopping")
			return state.stats, nil
		}
		state.visited[pageKey] = struct{}{}

		pageLog := runLog.WithField("url", state.currentURL)
		text, err := c.fetcher.FetchHTML(ctx, state.currentURL, state.previousURL)
		if err != nil {
			pageLog.WithField("category", utils.CategorizeError(err)).Errorf("Fetch failed: %v", err)
			return state.stats, err
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
		if err != nil {
			return state.stats, fmt.Errorf("%w: parsing HTML of '%s': %v", utils.ErrParse, state.currentURL, err)
		}
		base, err := url.Parse(state.currentURL)
		if err != nil {
			return state.stats, fmt.Errorf("%w: '%s'", utils.ErrInvalidBaseURL, state.currentURL)
		}

		result := extract.Extract(doc, base, sel)
		if len(result.ImageURLs) == 0 {
			pageLog.Info("No images on page, treating as end of comic")
			return state.stats, nil
		}

		if firstEverCrawl && !state.coverCaptured {
			state.coverCaptured = true
			c.captureCover(ctx, source.ID, result.ImageURLs[0], state.currentURL, pageLog)
		}

		c.collectImages(source.ID, state, result, pageLog)

		if c.cfg.MaxPages > 0 && state.pagesPending >= c.cfg.MaxPages {
			state.reachedCap = true
		}

		if state.sinceCommit >= c.cfg.CommitThreshold || state.reachedCap {
			if err := c.flush(ctx, source.ID, state, pageLog); err != nil {
				return state.stats, err
			}
		}
		if state.reachedCap {
			state.stats.ReachedCap = true
			pageLog.Infof("Page cap of %d reached, stopping", c.cfg.MaxPages)
			return state.stats, nil
		}

		if result.NextURL == "" {
			pageLog.Info("No next link, crawl complete")
			return state.stats, nil
		}
		if _, looped := state.visited[utils.CanonicalURL(result.NextURL)]; looped {
			pageLog.WithField("next", result.NextURL).Info("Next link already visited, stopping")
			return state.stats, nil
		}
		state.previousURL = state.currentURL
		state.currentURL = result.NextURL
	}
}

// newFetchState builds the crawl cursor: resume from the highest-indexed
// page (with the page below it as Referer) when the source has pages, else
// start from the configured first-page URL.
func (c *Crawler) newFetchState(source *models.Source) (*fetchState, error) {
	state := &fetchState{
		visited: make(map[string]struct{}),
	}

	maxIndex, err := c.store.MaxPageIndex(source.ID)
	if err != nil {
		return nil, err
	}
	if maxIndex > 0 {
		last, err := c.store.GetPage(source.ID, maxIndex)
		if err != nil {
			return nil, err
		}
		state.currentURL = last.URL
		if maxIndex > 1 {
			if below, err := c.store.GetPage(source.ID, maxIndex-1); err == nil {
				state.previousURL = below.URL
			}
		}
	} else {
		state.currentURL = source.FirstPageURL
	}

	parsed, err := url.Parse(state.currentURL)
	if err != nil || !parsed.IsAbs() {
		return nil, fmt.Errorf("%w: '%s'", utils.ErrInvalidBaseURL, state.currentURL)
	}

	state.dedup, err = c.store.RecentRefs(source.ID, c.cfg.DedupWindowPages)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// collectImages appends not-yet-known (pageURL, imageURL) pairs as pending
// records. The in-memory dedup window covers recent pages; misses are
// double-checked against the catalog so older pairs are never re-inserted.
func (c *Crawler) collectImages(sourceID string, state *fetchState, result extract.Result, pageLog *logrus.Entry) {
	newOnPage := 0
	for _, imgURL := range result.ImageURLs {
		key := utils.RefKey(state.currentURL, imgURL)
		if _, known := state.dedup[key]; known {
			continue
		}
		if exists, err := c.store.HasRef(sourceID, state.currentURL, imgURL); err != nil {
			pageLog.Warnf("Ref check failed, skipping image: %v", err)
			continue
		} else if exists {
			state.dedup[key] = struct{}{}
			continue
		}

		state.pending = append(state.pending, models.PendingRecord{
			PageURL:  state.currentURL,
			ImageURL: imgURL,
			Title:    result.Title,
		})
		state.dedup[key] = struct{}{}
		state.sinceCommit++
		newOnPage++
	}
	if newOnPage > 0 {
		state.pagesPending++
		pageLog.WithField("images", newOnPage).Debug("Buffered page records")
	}
}

// captureCover fetches the first extracted image's bytes asynchronously and
// sets them as the source cover if it still has none. Best-effort: failures
// are swallowed.
func (c *Crawler) captureCover(ctx context.Context, sourceID, imageURL, referer string, pageLog *logrus.Entry) {
	if utils.IsDataURL(imageURL) {
		if _, data, err := utils.DecodeDataURL(imageURL); err == nil {
			c.setCoverGated(sourceID, data, pageLog)
		}
		return
	}
	go func() {
		data, _, err := c.fetcher.FetchBytes(ctx, imageURL, referer)
		if err != nil {
			pageLog.Debugf("Cover capture failed: %v", err)
			return
		}
		c.setCoverGated(sourceID, data, pageLog)
	}()
}

// setCoverGated stores cover bytes under the Write Gate. The cover write
// rewrites the source record, so letting it run outside the gate could
// conflict with a concurrent batch commit against the same record.
func (c *Crawler) setCoverGated(sourceID string, data []byte, pageLog *logrus.Entry) {
	if err := c.gate.Pause(context.Background()); err != nil {
		return
	}
	defer c.gate.Resume()
	if _, err := c.store.SetCover(sourceID, data); err != nil {
		pageLog.Debugf("Cover store failed: %v", err)
	}
}

// flush commits the pending buffer under the Write Gate. On success the
// buffer is cleared; on failure it is retained so the next flush retries the
// same batch.
func (c *Crawler) flush(ctx context.Context, sourceID string, state *fetchState, log *logrus.Entry) error {
	if len(state.pending) == 0 {
		return nil
	}
	if err := c.gate.Pause(ctx); err != nil {
		return err
	}
	defer c.gate.Resume()

	pages, images, err := c.store.CommitBatch(sourceID, state.pending)
	if err != nil {
		log.Errorf("Batch commit failed, retaining %d pending records: %v", len(state.pending), err)
		return err
	}
	log.WithFields(logrus.Fields{"pages": pages, "images": images}).Debug("Committed batch")
	state.stats.PagesAdded += pages
	state.stats.ImagesAdded += images
	state.pending = state.pending[:0]
	state.sinceCommit = 0
	return nil
}

// finalFlush is the best-effort flush attempted on every termination path,
// including cancellation. Errors are swallowed: uncommitted records are
// re-derived by the next crawl run.
func (c *Crawler) finalFlush(sourceID string, state *fetchState, log *logrus.Entry) {
	if state == nil || len(state.pending) == 0 {
		return
	}
	if err := c.flush(context.Background(), sourceID, state, log); err != nil {
		log.Warnf("Final flush failed (will retry next run): %v", err)
	}
}
