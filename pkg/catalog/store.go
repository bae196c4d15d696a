package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"comic-archiver/pkg/log"
	"comic-archiver/pkg/models"
	"comic-archiver/pkg/utils"
)

const (
	sourceKeyPrefix = "src:"
	pageKeyPrefix   = "page:"
	refKeyPrefix    = "ref:"
	coverKeyPrefix  = "cover:"

	catalogDBDir = "catalog_db" // Subdirectory within stateDir for Badger DB files
)

// Store is the persistent catalog of sources, pages and image refs, backed
// by BadgerDB. Batch operations (CommitBatch, ApplyDownloads) run inside a
// single transaction: either the whole batch lands or none of it does.
type Store struct {
	db  *badger.DB
	log *logrus.Entry
}

// Open initializes the catalog store under stateDir.
func Open(stateDir string, logger *logrus.Entry) (*Store, error) {
	dbPath := filepath.Join(stateDir, catalogDBDir)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}

	logger.Debugf("Opening catalog database at: %s", dbPath)
	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}
	return &Store{db: db, log: logger}, nil
}

// Close cleanly closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func sourceKey(id string) []byte { return []byte(sourceKeyPrefix + id) }
func coverKey(id string) []byte  { return []byte(coverKeyPrefix + id) }

// pageKey encodes page keys so lexicographic order equals index order.
func pageKey(sourceID string, index int) []byte {
	return []byte(fmt.Sprintf("%s%s:%08d", pageKeyPrefix, sourceID, index))
}

func refKey(sourceID, pageURL, imageURL string) []byte {
	return []byte(refKeyPrefix + sourceID + ":" + utils.RefKey(pageURL, imageURL))
}

// PutSource inserts or replaces a source record.
func (s *Store) PutSource(src *models.Source) error {
	val, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("%w: marshaling source: %w", utils.ErrDatabase, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sourceKey(src.ID), val)
	})
	if err != nil {
		return fmt.Errorf("%w: storing source '%s': %w", utils.ErrDatabase, src.ID, err)
	}
	return nil
}

// GetSource loads a source by ID. Missing sources return os.ErrNotExist.
func (s *Store) GetSource(id string) (*models.Source, error) {
	var src models.Source
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sourceKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return os.ErrNotExist
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &src)
		})
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("source '%s': %w", id, os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading source '%s': %w", utils.ErrDatabase, id, err)
	}
	return &src, nil
}

// ListSources returns all configured sources.
func (s *Store) ListSources() ([]models.Source, error) {
	var sources []models.Source
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sourceKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var src models.Source
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &src)
			})
			if err != nil {
				return err
			}
			sources = append(sources, src)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing sources: %w", utils.ErrDatabase, err)
	}
	return sources, nil
}

// DeleteSource removes a source and every page, ref and cover record that
// belongs to it.
func (s *Store) DeleteSource(id string) error {
	prefixes := [][]byte{
		[]byte(pageKeyPrefix + id + ":"),
		[]byte(refKeyPrefix + id + ":"),
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	err := s.db.View(func(txn *badger.Txn) error {
		for _, prefix := range prefixes {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			for it.Rewind(); it.Valid(); it.Next() {
				if err := wb.Delete(it.Item().KeyCopy(nil)); err != nil {
					it.Close()
					return err
				}
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: collecting keys for source '%s': %w", utils.ErrDatabase, id, err)
	}
	if err := wb.Delete(sourceKey(id)); err != nil {
		return fmt.Errorf("%w: deleting source '%s': %w", utils.ErrDatabase, id, err)
	}
	if err := wb.Delete(coverKey(id)); err != nil {
		return fmt.Errorf("%w: deleting cover for source '%s': %w", utils.ErrDatabase, id, err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("%w: deleting records for source '%s': %w", utils.ErrDatabase, id, err)
	}
	return nil
}

// MaxPageIndex returns the highest page index assigned for the source, or 0
// when it has no pages.
func (s *Store) MaxPageIndex(sourceID string) (int, error) {
	max := 0
	prefix := []byte(pageKeyPrefix + sourceID + ":")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek to the key just past the prefix range and step back into it.
		seek := append(append([]byte{}, prefix...), 0xFF)
		it.Seek(seek)
		if it.ValidForPrefix(prefix) {
			var page models.Page
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &page)
			})
			if err != nil {
				return err
			}
			max = page.Index
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: finding max page index for '%s': %w", utils.ErrDatabase, sourceID, err)
	}
	return max, nil
}

// GetPage loads one page by index. Missing pages return os.ErrNotExist.
func (s *Store) GetPage(sourceID string, index int) (*models.Page, error) {
	var page models.Page
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pageKey(sourceID, index))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return os.ErrNotExist
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &page)
		})
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading page %d of '%s': %w", utils.ErrDatabase, index, sourceID, err)
	}
	return &page, nil
}

// PageRange returns up to limit pages with index >= fromIndex, ascending.
// It is the bounded scan backing the downloader's reconciliation pass.
func (s *Store) PageRange(sourceID string, fromIndex, limit int) ([]models.Page, error) {
	var pages []models.Page
	prefix := []byte(pageKeyPrefix + sourceID + ":")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(pageKey(sourceID, fromIndex)); it.ValidForPrefix(prefix) && len(pages) < limit; it.Next() {
			var page models.Page
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &page)
			})
			if err != nil {
				return err
			}
			pages = append(pages, page)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scanning pages of '%s': %w", utils.ErrDatabase, sourceID, err)
	}
	return pages, nil
}

// HasRef reports whether the (pageURL, imageURL) pair is already recorded
// for the source.
func (s *Store) HasRef(sourceID, pageURL, imageURL string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(refKey(sourceID, pageURL, imageURL))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: checking ref: %w", utils.ErrDatabase, err)
	}
	return found, nil
}

// RecentRefs returns the dedup keys of the images on the last lastNPages
// pages, seeding a crawl's in-memory dedup window.
func (s *Store) RecentRefs(sourceID string, lastNPages int) (map[string]struct{}, error) {
	refs := make(map[string]struct{})
	maxIndex, err := s.MaxPageIndex(sourceID)
	if err != nil {
		return nil, err
	}
	if maxIndex == 0 {
		return refs, nil
	}
	from := maxIndex - lastNPages + 1
	if from < 1 {
		from = 1
	}
	pages, err := s.PageRange(sourceID, from, lastNPages)
	if err != nil {
		return nil, err
	}
	for _, page := range pages {
		for _, img := range page.Images {
			refs[utils.RefKey(page.URL, img.URL)] = struct{}{}
		}
	}
	return refs, nil
}

// CommitBatch turns buffered pending records into durable Page/Image records
// in one transaction. Records are grouped by page URL in first-seen order;
// each distinct page URL gets the next unused sequential index, images get
// 0-based indices in extraction order, and the source's counters are bumped
// by the newly created records. On error nothing is committed and the caller
// keeps its pending buffer for a later retry.
func (s *Store) CommitBatch(sourceID string, pending []models.PendingRecord) (pagesAdded, imagesAdded int, err error) {
	if len(pending) == 0 {
		return 0, 0, nil
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		// Load source inside the transaction so counter updates are atomic
		item, err := txn.Get(sourceKey(sourceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("source '%s': %w", sourceID, os.ErrNotExist)
		}
		if err != nil {
			return err
		}
		var src models.Source
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &src) }); err != nil {
			return err
		}

		maxIndex, err := maxPageIndexTxn(txn, sourceID)
		if err != nil {
			return err
		}

		// Group records by page URL in first-seen order
		var order []string
		groups := make(map[string][]models.PendingRecord)
		for _, rec := range pending {
			if _, seen := groups[rec.PageURL]; !seen {
				order = append(order, rec.PageURL)
			}
			groups[rec.PageURL] = append(groups[rec.PageURL], rec)
		}

		for _, pageURL := range order {
			recs := groups[pageURL]
			maxIndex++
			page := models.Page{
				Index: maxIndex,
				Title: recs[0].Title,
				URL:   pageURL,
			}
			for i, rec := range recs {
				page.Images = append(page.Images, models.Image{Index: i, URL: rec.ImageURL})
				if err := txn.Set(refKey(sourceID, rec.PageURL, rec.ImageURL), nil); err != nil {
					return err
				}
			}
			val, err := json.Marshal(&page)
			if err != nil {
				return err
			}
			if err := txn.Set(pageKey(sourceID, page.Index), val); err != nil {
				return err
			}
			pagesAdded++
			imagesAdded += len(recs)
		}

		src.PageCount += pagesAdded
		src.ImageCount += imagesAdded
		val, err := json.Marshal(&src)
		if err != nil {
			return err
		}
		return txn.Set(sourceKey(sourceID), val)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("%w: committing batch for '%s': %w", utils.ErrDatabase, sourceID, err)
	}
	return pagesAdded, imagesAdded, nil
}

// maxPageIndexTxn is MaxPageIndex inside an existing transaction.
func maxPageIndexTxn(txn *badger.Txn, sourceID string) (int, error) {
	prefix := []byte(pageKeyPrefix + sourceID + ":")
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := append(append([]byte{}, prefix...), 0xFF)
	it.Seek(seek)
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}
	var page models.Page
	err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &page) })
	if err != nil {
		return 0, err
	}
	return page.Index, nil
}

// ApplyDownloads records completed download results in one transaction:
// download paths are set, the downloaded counter is bumped for each newly
// written file, and cover bytes (when carried) become the source cover.
func (s *Store) ApplyDownloads(sourceID string, results []models.DownloadResult) error {
	if len(results) == 0 {
		return nil
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(sourceKey(sourceID))
		if err != nil {
			return err
		}
		var src models.Source
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &src) }); err != nil {
			return err
		}

		// Group by page so each page record is rewritten once
		byPage := make(map[int][]models.DownloadResult)
		for _, res := range results {
			byPage[res.PageIndex] = append(byPage[res.PageIndex], res)
		}

		for pageIndex, pageResults := range byPage {
			pItem, err := txn.Get(pageKey(sourceID, pageIndex))
			if err != nil {
				return fmt.Errorf("page %d: %w", pageIndex, err)
			}
			var page models.Page
			if err := pItem.Value(func(val []byte) error { return json.Unmarshal(val, &page) }); err != nil {
				return err
			}

			for _, res := range pageResults {
				if res.ImageIndex < 0 || res.ImageIndex >= len(page.Images) {
					return fmt.Errorf("image index %d out of range on page %d", res.ImageIndex, pageIndex)
				}
				img := &page.Images[res.ImageIndex]
				if res.Wrote && img.DownloadPath == "" {
					src.Downloaded++
				}
				img.DownloadPath = res.FinalPath

				if res.CoverBytes != nil && !src.HasCover {
					if err := txn.Set(coverKey(sourceID), res.CoverBytes); err != nil {
						return err
					}
					src.HasCover = true
				}
			}

			val, err := json.Marshal(&page)
			if err != nil {
				return err
			}
			if err := txn.Set(pageKey(sourceID, pageIndex), val); err != nil {
				return err
			}
		}

		val, err := json.Marshal(&src)
		if err != nil {
			return err
		}
		return txn.Set(sourceKey(sourceID), val)
	})
	if err != nil {
		return fmt.Errorf("%w: applying downloads for '%s': %w", utils.ErrDatabase, sourceID, err)
	}
	return nil
}

// SetCover stores cover image bytes for a source if it has none yet.
// Returns true when the cover was set.
func (s *Store) SetCover(sourceID string, data []byte) (bool, error) {
	set := false
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(sourceKey(sourceID))
		if err != nil {
			return err
		}
		var src models.Source
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &src) }); err != nil {
			return err
		}
		if src.HasCover {
			return nil
		}
		if err := txn.Set(coverKey(sourceID), data); err != nil {
			return err
		}
		src.HasCover = true
		val, err := json.Marshal(&src)
		if err != nil {
			return err
		}
		set = true
		return txn.Set(sourceKey(sourceID), val)
	})
	if err != nil {
		return false, fmt.Errorf("%w: setting cover for '%s': %w", utils.ErrDatabase, sourceID, err)
	}
	return set, nil
}

// GetCover loads the cover bytes for a source, or nil when unset.
func (s *Store) GetCover(sourceID string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(coverKey(sourceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: loading cover for '%s': %w", utils.ErrDatabase, sourceID, err)
	}
	return data, nil
}
