package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/deusflow/finbrief/internal/analyst"
	"github.com/deusflow/finbrief/internal/config"
	"github.com/deusflow/finbrief/internal/feed"
	"github.com/deusflow/finbrief/internal/filter"
	"github.com/deusflow/finbrief/internal/gemini"
	"github.com/deusflow/finbrief/internal/logger"
	"github.com/deusflow/finbrief/internal/metrics"
	"github.com/deusflow/finbrief/internal/newsapi"
	"github.com/deusflow/finbrief/internal/notify"
	"github.com/deusflow/finbrief/internal/pipeline"
	"github.com/deusflow/finbrief/internal/scraper"
	"github.com/deusflow/finbrief/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init(false)
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}
	logger.Init(cfg.Debug)
	logger.Info("starting finbrief")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	genClient, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		logger.Error("Gemini client failed", "error", err)
		os.Exit(1)
	}
	defer genClient.Close()

	// A second key, when configured, isolates map-phase quota from the
	// structured calls.
	var batchGen analyst.TextGenerator
	if cfg.GeminiBatchAPIKey != cfg.GeminiAPIKey {
		batchClient, err := gemini.NewClient(ctx, cfg.GeminiBatchAPIKey)
		if err != nil {
			logger.Warn("batch Gemini client failed, reusing primary", "error", err)
		} else {
			defer batchClient.Close()
			batchGen = batchClient
		}
	}

	var harvesters []pipeline.Harvester
	harvesters = append(harvesters, newsapi.NewClient(newsapi.Config{
		BaseURL:    cfg.NewsAPIBaseURL,
		LinkBase:   cfg.NewsAPILinkBase,
		Categories: cfg.NewsAPICategories,
		Pages:      cfg.NewsAPIPages,
		PageLimit:  cfg.NewsAPIPageLimit,
		Timeout:    cfg.RequestTimeout,
	}))

	sources, err := feed.LoadSources(cfg.SourcesConfigPath)
	if err != nil {
		logger.Warn("RSS source config unavailable", "path", cfg.SourcesConfigPath, "error", err)
	} else if len(sources) > 0 {
		harvesters = append(harvesters, feed.NewFetcher(sources, cfg.RequestTimeout, cfg.FetchConcurrency))
	}

	webhook := notify.NewWebhook(cfg.WebhookURL, cfg.RequestTimeout)

	brain := analyst.New(genClient, batchGen, webhook, analyst.Options{
		Models:            cfg.ModelCandidates,
		MaxRetries:        cfg.MaxRetries,
		BackoffBase:       cfg.RetryBaseDelay,
		RateLimitCooldown: cfg.RateLimitCooldown,
		MaxArticles:       cfg.MaxAnalysisArticles,
		MapThreshold:      cfg.MapReduceThreshold,
		MapBatchSize:      cfg.MapBatchSize,
		MapCooldown:       cfg.MapBatchCooldown,
	})

	run := pipeline.New(
		store,
		harvesters,
		scraper.New(cfg.RequestTimeout, cfg.FetchDelay, cfg.FetchConcurrency),
		brain,
		webhook,
		filter.New(cfg.IncludeKeywords, cfg.ExcludeKeywords),
		pipeline.Options{
			RetentionDays:       cfg.RetentionDays,
			SimilarityThreshold: cfg.SimilarityThreshold,
			Watchlist:           cfg.IncludeKeywords,
		},
	)

	if cfg.MonitoringEnabled {
		go startMonitoring(cfg.MonitoringPort)
	}

	if err := run.RunOnce(ctx); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
	logger.Info("finbrief finished")
}

func startMonitoring(port string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(metrics.Global.GetStats())
	})

	logger.Info("monitoring server listening", "port", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logger.Error("monitoring server failed", "error", err)
	}
}
