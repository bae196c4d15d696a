package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"comic-archiver/pkg/catalog"
	"comic-archiver/pkg/config"
	"comic-archiver/pkg/crawl"
	"comic-archiver/pkg/download"
	"comic-archiver/pkg/fetch"
	"comic-archiver/pkg/models"
	"comic-archiver/pkg/profile"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	configFileFlag := flag.String("config", "config.yaml", "Path to YAML config file")
	logLevelFlag := flag.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	sourceFlag := flag.String("source", "", "Source name to operate on")
	importFlag := flag.String("import-profile", "", "Import a source from a profile JSON file")
	exportFlag := flag.String("export-profile", "", "Export the selected source to a profile JSON file")
	listFlag := flag.Bool("list", false, "List configured sources")
	deleteFlag := flag.Bool("delete", false, "Delete the selected source and its records")
	crawlFlag := flag.Bool("crawl", false, "Crawl the selected source for new pages")
	downloadFlag := flag.Bool("download", false, "Download the selected source's images")
	overwriteFlag := flag.Bool("overwrite", false, "Re-download images that already exist on disk")
	maxPagesFlag := flag.Int("max-pages", 0, "Cap on new pages per crawl (0 = unlimited)")
	flag.Parse()

	if level, err := logrus.ParseLevel(*logLevelFlag); err != nil {
		log.Warnf("Invalid log level '%s', using 'info'. Error: %v", *logLevelFlag, err)
	} else {
		log.SetLevel(level)
	}

	// --- Load Application Configuration ---
	var appCfg config.AppConfig
	if data, err := os.ReadFile(*configFileFlag); err == nil {
		if err := yaml.Unmarshal(data, &appCfg); err != nil {
			log.Fatalf("Parse config file '%s' error: %v", *configFileFlag, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Read config file '%s' error: %v", *configFileFlag, err)
	}
	for _, w := range appCfg.Validate() {
		log.Warn(w)
	}
	if *maxPagesFlag > 0 {
		appCfg.MaxPages = *maxPagesFlag
	}
	if *overwriteFlag {
		appCfg.Overwrite = true
	}

	// --- Setup Global Context & Signal Handling ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancel()
		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded. Forcing exit.")
			os.Exit(1)
		}
	}()

	// --- Open Catalog ---
	store, err := catalog.Open(appCfg.StateDir, logrus.NewEntry(log))
	if err != nil {
		log.Fatalf("Opening catalog: %v", err)
	}
	defer store.Close()

	gate := catalog.NewGate()
	client := fetch.NewClient(appCfg.HTTPClientSettings, log)
	fetcher := fetch.NewFetcher(client, &appCfg, log)

	// --- Profile Import (creates a source, no -source needed) ---
	if *importFlag != "" {
		data, err := os.ReadFile(*importFlag)
		if err != nil {
			log.Fatalf("Reading profile '%s': %v", *importFlag, err)
		}
		src, err := profile.Import(data)
		if err != nil {
			log.Fatalf("Importing profile '%s': %v", *importFlag, err)
		}
		src.ID = uuid.NewString()
		src.CreatedAt = time.Now()
		if err := store.PutSource(src); err != nil {
			log.Fatalf("Storing source: %v", err)
		}
		log.Infof("Imported source '%s' (%s)", src.Name, src.ID)
	}

	if *listFlag {
		sources, err := store.ListSources()
		if err != nil {
			log.Fatalf("Listing sources: %v", err)
		}
		for _, src := range sources {
			fmt.Printf("%-30s pages=%-6d images=%-6d downloaded=%-6d %s\n",
				src.Name, src.PageCount, src.ImageCount, src.Downloaded, src.FirstPageURL)
		}
	}

	if !*crawlFlag && !*downloadFlag && *exportFlag == "" && !*deleteFlag {
		return
	}

	source := mustSelectSource(store, *sourceFlag, log)

	if *exportFlag != "" {
		data, err := profile.Export(source)
		if err != nil {
			log.Fatalf("Exporting profile: %v", err)
		}
		if err := os.WriteFile(*exportFlag, data, 0644); err != nil {
			log.Fatalf("Writing profile '%s': %v", *exportFlag, err)
		}
		log.Infof("Exported profile to %s", *exportFlag)
	}

	if *deleteFlag {
		if err := store.DeleteSource(source.ID); err != nil {
			log.Fatalf("Deleting source '%s': %v", source.Name, err)
		}
		log.Infof("Deleted source '%s'", source.Name)
		return
	}

	// Crawl and download may run concurrently against the same catalog; the
	// Write Gate keeps their commits from interleaving.
	var wg sync.WaitGroup
	if *crawlFlag {
		wg.Add(1)
		go func() {
			defer wg.Done()
			crawler := crawl.NewCrawler(store, gate, fetcher, &appCfg, log)
			stats, err := crawler.Run(ctx, source)
			logOutcome(log, "Crawl", err)
			log.Infof("Crawl finished: %d pages, %d images added (cap reached: %v)",
				stats.PagesAdded, stats.ImagesAdded, stats.ReachedCap)
		}()
	}
	if *downloadFlag {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler := download.NewScheduler(store, gate, fetcher, &appCfg, log)
			stats, err := scheduler.Run(ctx, source, appCfg.OutputBaseDir, appCfg.Overwrite)
			logOutcome(log, "Download", err)
			log.Infof("Download finished: %d scheduled, %d written, %d skipped, %d failed",
				stats.Scheduled, stats.Written, stats.Skipped, stats.Failed)
		}()
	}
	wg.Wait()
}

// mustSelectSource resolves -source by name (case-insensitive) or exits.
func mustSelectSource(store *catalog.Store, name string, log *logrus.Logger) *models.Source {
	if name == "" {
		log.Fatal("Error: -source flag is required for this operation.")
	}
	sources, err := store.ListSources()
	if err != nil {
		log.Fatalf("Listing sources: %v", err)
	}
	for i := range sources {
		if strings.EqualFold(sources[i].Name, name) {
			return &sources[i]
		}
	}
	log.Fatalf("Error: source '%s' not found. Use -list to see configured sources.", name)
	return nil
}

// logOutcome reports an operation's error, treating cancellation as a
// graceful stop rather than a failure.
func logOutcome(log *logrus.Logger, op string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		log.Warnf("%s cancelled, stopping gracefully", op)
	default:
		log.Errorf("%s failed: %v", op, err)
	}
}
