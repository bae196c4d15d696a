package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comic-archiver/pkg/catalog"
	"comic-archiver/pkg/config"
	"comic-archiver/pkg/fetch"
	"comic-archiver/pkg/models"
	"comic-archiver/pkg/utils"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		UserAgent:        "test-agent/1.0",
		MaxRetries:       1,
		RetryBackoffStep: time.Millisecond,
		CommitThreshold:  config.DefaultCommitThreshold,
		DedupWindowPages: config.DefaultDedupWindowPages,
	}
}

type crawlEnv struct {
	store   *catalog.Store
	gate    *catalog.Gate
	crawler *Crawler
	cfg     *config.AppConfig
}

func newCrawlEnv(t *testing.T) *crawlEnv {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	store, err := catalog.Open(t.TempDir(), logrus.NewEntry(log))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := testConfig()
	gate := catalog.NewGate()
	fetcher := fetch.NewFetcher(&http.Client{Timeout: 10 * time.Second}, cfg, log)
	return &crawlEnv{
		store:   store,
		gate:    gate,
		crawler: NewCrawler(store, gate, fetcher, cfg, log),
		cfg:     cfg,
	}
}

// comicPage describes one page of the fake comic served by comicServer.
type comicPage struct {
	title  string
	images []string // image paths on the test server
	next   string   // next page path, empty for the last page
}

// comicServer serves a linked sequence of comic pages plus their image
// assets, counting requests per path.
func comicServer(t *testing.T, pages map[string]comicPage) (*httptest.Server, func(path string) int) {
	t.Helper()
	var (
		mu   sync.Mutex
		hits = make(map[string]int)
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()

		page, ok := pages[r.URL.Path]
		if !ok {
			// Image asset request
			w.Header().Set("Content-Type", "image/png")
			io.WriteString(w, "png-bytes-"+r.URL.Path)
			return
		}
		fmt.Fprintf(w, "<html><head><title>%s</title></head><body>", page.title)
		fmt.Fprintf(w, `<h1 class="title">%s</h1>`, page.title)
		for _, img := range page.images {
			fmt.Fprintf(w, `<img class="comic" src="%s">`, img)
		}
		if page.next != "" {
			fmt.Fprintf(w, `<a class="next" href="%s">Next</a>`, page.next)
		}
		io.WriteString(w, "</body></html>")
	}))
	t.Cleanup(server.Close)
	return server, func(path string) int {
		mu.Lock()
		defer mu.Unlock()
		return hits[path]
	}
}

func threePages() map[string]comicPage {
	return map[string]comicPage{
		"/p1": {title: "Page One", images: []string{"/img/1.png"}, next: "/p2"},
		"/p2": {title: "Page Two", images: []string{"/img/2.png"}, next: "/p3"},
		"/p3": {title: "Page Three", images: []string{"/img/3.png"}},
	}
}

func newCrawlSource(t *testing.T, env *crawlEnv, firstPageURL string) *models.Source {
	t.Helper()
	src := &models.Source{
		ID:            "src-1",
		Name:          "Test Comic",
		FirstPageURL:  firstPageURL,
		SelectorTitle: "h1.title",
		SelectorImage: "img.comic",
		SelectorNext:  "a.next",
		CreatedAt:     time.Now(),
	}
	require.NoError(t, env.store.PutSource(src))
	return src
}

func TestCrawlThreePages(t *testing.T) {
	env := newCrawlEnv(t)
	server, _ := comicServer(t, threePages())
	src := newCrawlSource(t, env, server.URL+"/p1")

	stats, err := env.crawler.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.PagesAdded)
	assert.Equal(t, 3, stats.ImagesAdded)
	assert.False(t, stats.ReachedCap)

	// Pages got sequential 1-based indices in crawl order
	for i, path := range []string{"/p1", "/p2", "/p3"} {
		page, err := env.store.GetPage(src.ID, i+1)
		require.NoError(t, err)
		assert.Equal(t, i+1, page.Index)
		assert.Equal(t, server.URL+path, page.URL)
		require.Len(t, page.Images, 1)
		assert.Equal(t, 0, page.Images[0].Index)
	}

	loaded, err := env.store.GetSource(src.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.PageCount)
	assert.Equal(t, 3, loaded.ImageCount)
}

func TestCrawlSecondRunAddsNothing(t *testing.T) {
	env := newCrawlEnv(t)
	server, hitsFor := comicServer(t, threePages())
	src := newCrawlSource(t, env, server.URL+"/p1")

	stats, err := env.crawler.Run(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 3, stats.PagesAdded)

	// The second run resumes from the last known page, re-crawls it, finds
	// nothing new and follows no further links past what it has seen.
	src, err = env.store.GetSource(src.ID)
	require.NoError(t, err)
	stats, err = env.crawler.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Zero(t, stats.PagesAdded)
	assert.Zero(t, stats.ImagesAdded)

	// Resume started at the last page, not from the beginning
	assert.Equal(t, 1, hitsFor("/p1"))
	assert.Equal(t, 2, hitsFor("/p3"))

	loaded, err := env.store.GetSource(src.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.PageCount)
	assert.Equal(t, 3, loaded.ImageCount)
}

func TestCrawlPageCapExactness(t *testing.T) {
	env := newCrawlEnv(t)
	env.cfg.MaxPages = 2
	server, hitsFor := comicServer(t, threePages())
	src := newCrawlSource(t, env, server.URL+"/p1")

	stats, err := env.crawler.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PagesAdded)
	assert.True(t, stats.ReachedCap)

	// The crawl stopped before fetching the third page
	assert.Zero(t, hitsFor("/p3"))

	max, err := env.store.MaxPageIndex(src.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, max)
}

func TestCrawlCycleTerminates(t *testing.T) {
	env := newCrawlEnv(t)
	pages := threePages()
	p3 := pages["/p3"]
	p3.next = "/p1" // last page loops back to the first
	pages["/p3"] = p3

	server, hitsFor := comicServer(t, pages)
	src := newCrawlSource(t, env, server.URL+"/p1")

	stats, err := env.crawler.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.PagesAdded)
	assert.Equal(t, 1, hitsFor("/p1"))
}

func TestCrawlCycleWithFragmentTerminates(t *testing.T) {
	env := newCrawlEnv(t)
	pages := threePages()
	p3 := pages["/p3"]
	p3.next = "/p1#comic" // fragment variant of a visited page
	pages["/p3"] = p3

	server, hitsFor := comicServer(t, pages)
	src := newCrawlSource(t, env, server.URL+"/p1")

	stats, err := env.crawler.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.PagesAdded)
	assert.Equal(t, 1, hitsFor("/p1"))
}

func TestCrawlStopsOnPageWithoutImages(t *testing.T) {
	env := newCrawlEnv(t)
	pages := threePages()
	pages["/p2"] = comicPage{title: "The End", next: "/p3"}
	server, hitsFor := comicServer(t, pages)
	src := newCrawlSource(t, env, server.URL+"/p1")

	stats, err := env.crawler.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PagesAdded)
	assert.Zero(t, hitsFor("/p3"))
}

func TestCrawlMissingImageSelector(t *testing.T) {
	env := newCrawlEnv(t)
	src := newCrawlSource(t, env, "https://comic.test/p1")
	src.SelectorImage = "   "

	_, err := env.crawler.Run(context.Background(), src)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrMissingSelector)

	var selErr *utils.SelectorError
	require.True(t, errors.As(err, &selErr))
	assert.Equal(t, "image", selErr.Name)
}

func TestCrawlInvalidFirstPageURL(t *testing.T) {
	env := newCrawlEnv(t)
	src := newCrawlSource(t, env, "/relative/path")

	_, err := env.crawler.Run(context.Background(), src)
	assert.ErrorIs(t, err, utils.ErrInvalidBaseURL)
}

func TestCrawlFetchErrorSurfaces(t *testing.T) {
	env := newCrawlEnv(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)
	src := newCrawlSource(t, env, server.URL+"/p1")

	_, err := env.crawler.Run(context.Background(), src)
	assert.ErrorIs(t, err, utils.ErrBadStatus)
}

func TestCrawlCancellation(t *testing.T) {
	env := newCrawlEnv(t)
	server, _ := comicServer(t, threePages())
	src := newCrawlSource(t, env, server.URL+"/p1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.crawler.Run(ctx, src)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCrawlWaitsOutPausedGate(t *testing.T) {
	env := newCrawlEnv(t)
	server, hitsFor := comicServer(t, threePages())
	src := newCrawlSource(t, env, server.URL+"/p1")

	require.NoError(t, env.gate.Pause(context.Background()))

	type result struct {
		stats models.CrawlStats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		stats, err := env.crawler.Run(context.Background(), src)
		done <- result{stats, err}
	}()

	// The cursor seed must not read mid-commit state, so no page is fetched
	// while the gate is held
	select {
	case <-done:
		t.Fatal("crawl ran while the gate was held")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, hitsFor("/p1"))

	env.gate.Resume()
	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, 3, res.stats.PagesAdded)
	case <-time.After(5 * time.Second):
		t.Fatal("crawl did not proceed after Resume")
	}
}

func TestCoverStoreHonorsGate(t *testing.T) {
	env := newCrawlEnv(t)
	src := newCrawlSource(t, env, "https://comic.test/p1")

	// Hold the gate as a commit section would; the cover write must queue
	// behind it instead of racing the source record
	require.NoError(t, env.gate.Pause(context.Background()))

	done := make(chan struct{})
	go func() {
		env.crawler.setCoverGated(src.ID, []byte("cover"), logrus.NewEntry(env.crawler.log))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("cover write proceeded while the gate was held")
	case <-time.After(50 * time.Millisecond):
	}
	loaded, err := env.store.GetSource(src.ID)
	require.NoError(t, err)
	assert.False(t, loaded.HasCover)

	env.gate.Resume()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cover write did not proceed after Resume")
	}

	cover, err := env.store.GetCover(src.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("cover"), cover)
}

func TestCrawlCapturesCoverOnFirstCrawl(t *testing.T) {
	env := newCrawlEnv(t)
	server, _ := comicServer(t, threePages())
	src := newCrawlSource(t, env, server.URL+"/p1")

	_, err := env.crawler.Run(context.Background(), src)
	require.NoError(t, err)

	// Cover capture is asynchronous best-effort; poll briefly
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		loaded, err := env.store.GetSource(src.ID)
		require.NoError(t, err)
		if loaded.HasCover {
			cover, err := env.store.GetCover(src.ID)
			require.NoError(t, err)
			assert.Equal(t, "png-bytes-/img/1.png", string(cover))
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("cover was not captured")
}
