// Package config builds the process configuration once at startup. No
// component reads the environment directly; everything receives values
// from this object.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Persistence
	DatabaseURL   string
	RetentionDays int

	// Gemini settings
	GeminiAPIKey      string
	GeminiBatchAPIKey string // map-reduce batches; falls back to GeminiAPIKey
	ModelCandidates   []string
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RateLimitCooldown time.Duration

	// Analysis sizing
	MaxAnalysisArticles int
	MapReduceThreshold  int
	MapBatchSize        int
	MapBatchCooldown    time.Duration

	// Sources
	SourcesConfigPath string
	NewsAPIBaseURL    string
	NewsAPILinkBase   string
	NewsAPICategories []string
	NewsAPIPages      int
	NewsAPIPageLimit  int

	// Filtering / dedup
	IncludeKeywords     []string
	ExcludeKeywords     []string
	SimilarityThreshold float64

	// Fetching
	FetchConcurrency int
	FetchDelay       time.Duration
	RequestTimeout   time.Duration

	// Notification
	WebhookURL string

	// App settings
	Debug             bool
	MonitoringEnabled bool
	MonitoringPort    string
}

func Load() (*Config, error) {
	cfg := &Config{
		RetentionDays:       30,
		ModelCandidates:     []string{"gemini-2.0-flash", "gemini-2.5-flash", "gemini-flash-latest"},
		MaxRetries:          3,
		RetryBaseDelay:      3 * time.Second,
		RateLimitCooldown:   10 * time.Second,
		MaxAnalysisArticles: 50,
		MapReduceThreshold:  40,
		MapBatchSize:        30,
		MapBatchCooldown:    4 * time.Second,
		SourcesConfigPath:   "configs/sources.yaml",
		NewsAPIBaseURL:      "https://api.cnyes.com/media/api/v1",
		NewsAPILinkBase:     "https://news.cnyes.com/news/id",
		NewsAPICategories:   []string{"tw_stock", "wd_stock", "tech"},
		NewsAPIPages:        2,
		NewsAPIPageLimit:    30,
		SimilarityThreshold: 0.8,
		FetchConcurrency:    5,
		FetchDelay:          800 * time.Millisecond,
		RequestTimeout:      15 * time.Second,
		MonitoringPort:      "8080",
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiBatchAPIKey = getEnvOrDefault("GEMINI_BATCH_API_KEY", cfg.GeminiAPIKey)
	cfg.WebhookURL = os.Getenv("WEBHOOK_URL")

	cfg.SourcesConfigPath = getEnvOrDefault("SOURCES_CONFIG_PATH", cfg.SourcesConfigPath)
	cfg.NewsAPIBaseURL = getEnvOrDefault("NEWS_API_BASE_URL", cfg.NewsAPIBaseURL)
	cfg.NewsAPILinkBase = getEnvOrDefault("NEWS_API_LINK_BASE", cfg.NewsAPILinkBase)
	if cats := splitList(os.Getenv("NEWS_API_CATEGORIES")); len(cats) > 0 {
		cfg.NewsAPICategories = cats
	}
	cfg.NewsAPIPages = getEnvIntOrDefault("NEWS_API_PAGES", cfg.NewsAPIPages)

	cfg.IncludeKeywords = splitList(os.Getenv("KEYWORDS"))
	cfg.ExcludeKeywords = splitList(os.Getenv("EXCLUDE_KEYWORDS"))

	if v := os.Getenv("SIMILARITY_THRESHOLD"); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil && val > 0 && val < 1 {
			cfg.SimilarityThreshold = val
		}
	}
	if models := splitList(os.Getenv("MODEL_CANDIDATES")); len(models) > 0 {
		cfg.ModelCandidates = models
	}

	cfg.RetentionDays = getEnvIntOrDefault("RETENTION_DAYS", cfg.RetentionDays)
	cfg.MaxRetries = getEnvIntOrDefault("AI_MAX_RETRIES", cfg.MaxRetries)
	cfg.MaxAnalysisArticles = getEnvIntOrDefault("MAX_ANALYSIS_ARTICLES", cfg.MaxAnalysisArticles)
	cfg.FetchConcurrency = getEnvIntOrDefault("FETCH_CONCURRENCY", cfg.FetchConcurrency)

	if v := os.Getenv("FETCH_DELAY_MS"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val >= 0 {
			cfg.FetchDelay = time.Duration(val) * time.Millisecond
		}
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			cfg.RequestTimeout = time.Duration(val) * time.Second
		}
	}

	cfg.MonitoringPort = getEnvOrDefault("MONITORING_PORT", cfg.MonitoringPort)
	if os.Getenv("ENABLE_HTTP_MONITORING") == "true" {
		cfg.MonitoringEnabled = true
	}
	if os.Getenv("DEBUG") == "true" {
		cfg.Debug = true
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if len(c.ModelCandidates) == 0 {
		return fmt.Errorf("at least one model candidate is required")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("AI_MAX_RETRIES must be >= 1")
	}
	if c.MapBatchSize < 1 || c.MapReduceThreshold < c.MapBatchSize {
		return fmt.Errorf("map-reduce threshold %d must be >= batch size %d", c.MapReduceThreshold, c.MapBatchSize)
	}
	return nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}
