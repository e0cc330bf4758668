package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/klaudstn/postvault/app/api"
	"github.com/klaudstn/postvault/app/cfg"
	"github.com/klaudstn/postvault/app/database"
	"github.com/klaudstn/postvault/app/fetch"
	"github.com/klaudstn/postvault/app/ingest"
	"github.com/klaudstn/postvault/app/media"
	"github.com/klaudstn/postvault/app/search"
	"github.com/klaudstn/postvault/app/sources"
	"github.com/klaudstn/postvault/app/tasks"
)

func main() {
	// Optional .env file, ignored when absent
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if c == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if c.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting PostVault", "version", c.Version)

	db, err := database.NewConnection(c.DataDir)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "schema_version", version, "dirty", dirty)

	configCache := sources.NewConfigCache(c.SourcesDir)
	if err := configCache.Run(); err != nil {
		slog.Error("Failed to load source configurations", "error", err)
		os.Exit(1)
	}
	slog.Info("Source configurations loaded", "count", configCache.GetConfigCount())

	sourceRepo := database.NewSourceRepository(db)
	itemRepo := database.NewItemRepository(db)
	statusRepo := database.NewStatusRepository(db)
	mediaRepo := database.NewMediaRepository(db)
	collectionRepo := database.NewCollectionRepository(db)
	searchRepo := database.NewSearchRepository(db)

	store, err := media.NewStore(c.DataDir, mediaRepo)
	if err != nil {
		slog.Error("Failed to initialize media store", "error", err)
		os.Exit(1)
	}

	indexer := search.NewIndexer(searchRepo)

	clientTimeout := 60 * time.Second
	lister := fetch.NewFeedLister(c.UserAgent)
	pageFetcher := fetch.NewHTMLPageFetcher(c.UserAgent, clientTimeout)
	downloader := fetch.NewHTTPDownloader(c.UserAgent, clientTimeout)

	discoverer := ingest.NewDiscoverer(statusRepo, lister, c.KnownStreak)
	extractor := ingest.NewExtractor(pageFetcher, downloader, store, itemRepo, mediaRepo,
		statusRepo, indexer, c.DataDir)
	grouper := ingest.NewGrouper(itemRepo, collectionRepo, statusRepo)

	scheduler := tasks.NewScheduler(configCache, sourceRepo, statusRepo,
		discoverer, extractor, grouper)
	if err := scheduler.Start(); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	// Changed source config files re-sync without a restart.
	watcher, err := sources.NewWatcher(configCache, func(sourceName string) {
		sourceConfig, err := configCache.GetConfig(sourceName)
		if err != nil {
			slog.Error("Reloaded source config unavailable", "source", sourceName, "error", err)
			return
		}
		if err := scheduler.EnqueueTask(tasks.NewSyncSourceConfigTask(sourceConfig, sourceRepo)); err != nil {
			slog.Error("Failed to enqueue sync task", "source", sourceName, "error", err)
		}
	})
	if err != nil {
		slog.Error("Failed to initialize config watcher", "error", err)
		os.Exit(1)
	}

	watcherCtx, watcherCancel := context.WithCancel(context.Background())
	defer watcherCancel()
	if err := watcher.Run(watcherCtx); err != nil {
		slog.Error("Failed to start config watcher", "error", err)
		os.Exit(1)
	}

	apiHandler := api.NewHandler(configCache, sourceRepo, itemRepo, statusRepo,
		mediaRepo, collectionRepo, store, indexer, scheduler)
	server := api.NewServer(apiHandler, c.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + c.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", c.Port, "base_url", c.BaseUrl)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Scheduler and watcher are stopped via defer
	slog.Info("Shutdown complete")
}
