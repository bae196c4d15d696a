package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"comic-archiver/pkg/catalog"
	"comic-archiver/pkg/config"
	"comic-archiver/pkg/fetch"
	"comic-archiver/pkg/models"
	"comic-archiver/pkg/utils"
)

// reconcileChunkPages bounds how many page records the reconciliation scan
// holds in memory at once.
const reconcileChunkPages = 1000

// Scheduler drives bounded-concurrency downloads of a source's images to
// disk and keeps the catalog in sync with what was written. Workers only
// download; all catalog mutation from completed results happens on the
// scheduler's own goroutine.
type Scheduler struct {
	store   *catalog.Store
	gate    *catalog.Gate
	fetcher *fetch.Fetcher
	cfg     *config.AppConfig
	log     *logrus.Logger
}

// NewScheduler creates a Scheduler sharing the catalog store and Write Gate
// with any concurrently running crawler.
func NewScheduler(store *catalog.Store, gate *catalog.Gate, fetcher *fetch.Fetcher, cfg *config.AppConfig, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		gate:    gate,
		fetcher: fetcher,
		cfg:     cfg,
		log:     log,
	}
}

// workItem is one (page, image) pair queued for download, plus the read-only
// context a worker needs to build the final filename.
type workItem struct {
	pageIndex  int
	imageIndex int
	imageCount int // Images on the owning page, for the -subIndex suffix
	pageURL    string
	pageTitle  string
	imageURL   string
}

// outcome carries a worker's result back to the owner loop.
type outcome struct {
	item workItem
	res  models.DownloadResult
	err  error // Systemic failure only; item-level failures are res.Wrote=false
}

// Run computes the work set for the source (never-downloaded images plus
// images whose backing file is missing on disk), then downloads them with at
// most MaxConcurrentDownloads in flight, committing the catalog every
// SaveEvery successful writes and once at the end.
func (d *Scheduler) Run(ctx context.Context, source *models.Source, destRoot string, overwrite bool) (models.DownloadStats, error) {
	runLog := d.log.WithField("source", source.Name)
	var stats models.DownloadStats

	destDir := filepath.Join(destRoot, utils.SanitizeName(source.Name))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return stats, fmt.Errorf("%w: creating destination '%s': %v", utils.ErrFilesystem, destDir, err)
	}

	// Don't scan the work set while a commit is in progress
	if err := d.gate.Wait(ctx); err != nil {
		return stats, err
	}
	work, err := d.buildWorkSet(source.ID, destDir)
	if err != nil {
		return stats, err
	}
	stats.Scheduled = len(work)
	runLog.Infof("Scheduling %d image downloads (%d concurrent)", len(work), d.cfg.MaxConcurrentDownloads)
	if len(work) == 0 {
		return stats, d.commit(source.ID, nil)
	}

	// Workers run under a child context so a systemic failure can stop the
	// launcher without cancelling the caller's context.
	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	sem := semaphore.NewWeighted(int64(d.cfg.MaxConcurrentDownloads))
	results := make(chan outcome)

	go func() {
		var wg sync.WaitGroup
		for _, item := range work {
			if workCtx.Err() != nil {
				break // Stop starting new tasks; in-flight ones finish
			}
			if err := sem.Acquire(workCtx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(it workItem) {
				defer wg.Done()
				defer sem.Release(1)
				results <- d.downloadAsset(workCtx, it, destDir, overwrite)
			}(item)
		}
		wg.Wait()
		close(results)
	}()

	// Owner loop: the only place completed results touch the catalog.
	var (
		pendingResults  []models.DownloadResult
		writesSinceSave int
		needCover       = !source.HasCover
		fatalErr        error
	)
	for out := range results {
		itemLog := runLog.WithFields(logrus.Fields{"page": out.item.pageIndex, "image": out.item.imageIndex})

		if out.err != nil {
			itemLog = itemLog.WithField("category", utils.CategorizeError(out.err))
			if errors.Is(out.err, utils.ErrNetwork) {
				itemLog.Errorf("Transport failure, stopping scheduler: %v", out.err)
				if fatalErr == nil {
					fatalErr = out.err
				}
				cancelWork()
			} else {
				itemLog.Warnf("Download not written: %v", out.err)
			}
			stats.Failed++
			continue
		}
		if out.res.FinalPath == "" {
			stats.Failed++
			continue
		}

		if out.res.Wrote {
			stats.Written++
			writesSinceSave++
			if needCover {
				if data, err := os.ReadFile(out.res.FinalPath); err == nil {
					out.res.CoverBytes = data
					needCover = false
				}
			}
		} else {
			stats.Skipped++
		}
		pendingResults = append(pendingResults, out.res)

		if writesSinceSave >= d.cfg.SaveEvery {
			if err := d.commit(source.ID, pendingResults); err != nil {
				runLog.Errorf("Periodic commit failed: %v", err)
				if fatalErr == nil {
					fatalErr = err
				}
				cancelWork()
			} else {
				pendingResults = pendingResults[:0]
				writesSinceSave = 0
			}
		}
	}

	// Final gate-protected commit, regardless of how many items ran.
	if err := d.commit(source.ID, pendingResults); err != nil {
		if fatalErr == nil {
			fatalErr = err
		}
	}

	if fatalErr == nil {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
	}
	return stats, fatalErr
}

// commit applies accumulated results to the catalog under the Write Gate.
// The gate is paused with a background context: a commit of already-finished
// work must land even when the run itself was cancelled.
func (d *Scheduler) commit(sourceID string, results []models.DownloadResult) error {
	if err := d.gate.Pause(context.Background()); err != nil {
		return err
	}
	defer d.gate.Resume()
	return d.store.ApplyDownloads(sourceID, results)
}

// buildWorkSet unions fresh images (empty download path) with images whose
// recorded file is missing on disk, deduplicated by image identity and
// sorted in reading order. The missing-on-disk scan walks page records in
// bounded chunks and checks the destination folder's directory listing (fast
// path) or stats the path directly when it lives elsewhere (slow path).
func (d *Scheduler) buildWorkSet(sourceID, destDir string) ([]workItem, error) {
	listing, err := dirListing(destDir)
	if err != nil {
		return nil, err
	}

	var work []workItem
	seen := make(map[[2]int]struct{})
	add := func(page models.Page, img models.Image) {
		key := [2]int{page.Index, img.Index}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		work = append(work, workItem{
			pageIndex:  page.Index,
			imageIndex: img.Index,
			imageCount: len(page.Images),
			pageURL:    page.URL,
			pageTitle:  page.Title,
			imageURL:   img.URL,
		})
	}

	from := 1
	for {
		pages, err := d.store.PageRange(sourceID, from, reconcileChunkPages)
		if err != nil {
			return nil, err
		}
		if len(pages) == 0 {
			break
		}
		for _, page := range pages {
			for _, img := range page.Images {
				if img.DownloadPath == "" {
					add(page, img) // Fresh: never downloaded
					continue
				}
				if !fileExists(img.DownloadPath, destDir, listing) {
					add(page, img) // Claims downloaded but missing on disk
				}
			}
		}
		from = pages[len(pages)-1].Index + 1
	}

	sort.Slice(work, func(i, j int) bool {
		if work[i].pageIndex != work[j].pageIndex {
			return work[i].pageIndex < work[j].pageIndex
		}
		return work[i].imageIndex < work[j].imageIndex
	})
	return work, nil
}

// dirListing reads the destination folder's entries once, as the fast path
// for reconciliation existence checks.
func dirListing(destDir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("%w: listing '%s': %v", utils.ErrFilesystem, destDir, err)
	}
	listing := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		listing[entry.Name()] = struct{}{}
	}
	return listing, nil
}

// fileExists confirms a recorded download path still has a backing file.
func fileExists(path, destDir string, listing map[string]struct{}) bool {
	if filepath.Dir(path) == filepath.Clean(destDir) {
		_, ok := listing[filepath.Base(path)]
		return ok
	}
	_, err := os.Stat(path)
	return err == nil
}

// downloadAsset downloads one image to its final location. Item-level
// failures (bad status, per-item cancellation, filesystem trouble) come back
// as a not-written result; only client-level transport errors are returned
// as outcome.err so the scheduler can treat them as systemic.
func (d *Scheduler) downloadAsset(ctx context.Context, item workItem, destDir string, overwrite bool) outcome {
	res := models.DownloadResult{PageIndex: item.pageIndex, ImageIndex: item.imageIndex}

	if utils.IsDataURL(item.imageURL) {
		mediaType, data, err := utils.DecodeDataURL(item.imageURL)
		if err != nil {
			return outcome{item: item, res: res, err: err}
		}
		ext := utils.ExtensionFor(mediaType, "")
		finalPath := filepath.Join(destDir, utils.PageFilename(item.pageIndex, item.imageIndex, item.imageCount, item.pageTitle, ext))
		wrote, err := placeBytes(finalPath, data, overwrite)
		if err != nil {
			return outcome{item: item, res: res, err: err}
		}
		res.FinalPath = finalPath
		res.Wrote = wrote
		return outcome{item: item, res: res}
	}

	// Bad status or per-item cancellation leaves the item pending for the
	// next run; ErrNetwork is recognized as systemic by the owner loop.
	tmpPath, contentType, err := d.fetcher.DownloadToTemp(ctx, item.imageURL, item.pageURL)
	if err != nil {
		return outcome{item: item, res: res, err: err}
	}

	ext := utils.ExtensionFor(contentType, item.imageURL)
	finalPath := filepath.Join(destDir, utils.PageFilename(item.pageIndex, item.imageIndex, item.imageCount, item.pageTitle, ext))

	if _, statErr := os.Stat(finalPath); statErr == nil {
		if !overwrite {
			os.Remove(tmpPath)
			res.FinalPath = finalPath // Already present, not written
			return outcome{item: item, res: res}
		}
		if err := os.Remove(finalPath); err != nil {
			os.Remove(tmpPath)
			return outcome{item: item, res: res, err: fmt.Errorf("%w: removing '%s': %v", utils.ErrFilesystem, finalPath, err)}
		}
	}

	if err := moveFile(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return outcome{item: item, res: res, err: err}
	}
	res.FinalPath = finalPath
	res.Wrote = true
	return outcome{item: item, res: res}
}

// placeBytes writes data to finalPath honoring the overwrite flag. Returns
// whether a new file was written.
func placeBytes(finalPath string, data []byte, overwrite bool) (bool, error) {
	if _, err := os.Stat(finalPath); err == nil && !overwrite {
		return false, nil
	}
	if err := os.WriteFile(finalPath, data, 0644); err != nil {
		return false, fmt.Errorf("%w: writing '%s': %v", utils.ErrFilesystem, finalPath, err)
	}
	return true, nil
}

// moveFile atomically renames tmp into place, copying across filesystems
// when rename is not possible.
func moveFile(tmpPath, finalPath string) error {
	if err := os.Rename(tmpPath, finalPath); err == nil {
		return nil
	}
	src, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: opening temp '%s': %v", utils.ErrFilesystem, tmpPath, err)
	}
	defer src.Close()
	dst, err := os.Create(finalPath)
	if err != nil {
		return fmt.Errorf("%w: creating '%s': %v", utils.ErrFilesystem, finalPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(finalPath)
		return fmt.Errorf("%w: copying to '%s': %v", utils.ErrFilesystem, finalPath, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(finalPath)
		return fmt.Errorf("%w: closing '%s': %v", utils.ErrFilesystem, finalPath, err)
	}
	os.Remove(tmpPath)
	return nil
}
