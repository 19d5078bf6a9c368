package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/finbrief")
	t.Setenv("GEMINI_API_KEY", "test-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SimilarityThreshold != 0.8 {
		t.Errorf("SimilarityThreshold = %v", cfg.SimilarityThreshold)
	}
	if cfg.MaxRetries != 3 || cfg.RetryBaseDelay != 3*time.Second {
		t.Errorf("retry defaults = %d, %v", cfg.MaxRetries, cfg.RetryBaseDelay)
	}
	if cfg.MaxAnalysisArticles != 50 || cfg.MapReduceThreshold != 40 || cfg.MapBatchSize != 30 {
		t.Errorf("analysis sizing = %d/%d/%d", cfg.MaxAnalysisArticles, cfg.MapReduceThreshold, cfg.MapBatchSize)
	}
	if len(cfg.ModelCandidates) == 0 {
		t.Error("no default model candidates")
	}
	if cfg.GeminiBatchAPIKey != cfg.GeminiAPIKey {
		t.Error("batch key should fall back to primary key")
	}
	if cfg.FetchConcurrency != 5 || cfg.FetchDelay != 800*time.Millisecond {
		t.Errorf("fetch defaults = %d, %v", cfg.FetchConcurrency, cfg.FetchDelay)
	}
	if cfg.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d", cfg.RetentionDays)
	}
	if cfg.MonitoringEnabled {
		t.Error("monitoring enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MODEL_CANDIDATES", "gemini-x, gemini-y")
	t.Setenv("SIMILARITY_THRESHOLD", "0.6")
	t.Setenv("KEYWORDS", "nvidia, fed ,rates")
	t.Setenv("FETCH_DELAY_MS", "200")
	t.Setenv("ENABLE_HTTP_MONITORING", "true")
	t.Setenv("GEMINI_BATCH_API_KEY", "batch-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.ModelCandidates) != 2 || cfg.ModelCandidates[0] != "gemini-x" {
		t.Errorf("ModelCandidates = %v", cfg.ModelCandidates)
	}
	if cfg.SimilarityThreshold != 0.6 {
		t.Errorf("SimilarityThreshold = %v", cfg.SimilarityThreshold)
	}
	if len(cfg.IncludeKeywords) != 3 || cfg.IncludeKeywords[1] != "fed" {
		t.Errorf("IncludeKeywords = %v", cfg.IncludeKeywords)
	}
	if cfg.FetchDelay != 200*time.Millisecond {
		t.Errorf("FetchDelay = %v", cfg.FetchDelay)
	}
	if !cfg.MonitoringEnabled {
		t.Error("ENABLE_HTTP_MONITORING ignored")
	}
	if cfg.GeminiBatchAPIKey != "batch-key" {
		t.Errorf("GeminiBatchAPIKey = %q", cfg.GeminiBatchAPIKey)
	}
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GEMINI_API_KEY", "k")
	if _, err := Load(); err == nil {
		t.Error("missing DATABASE_URL accepted")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/x")
	t.Setenv("GEMINI_API_KEY", "")
	if _, err := Load(); err == nil {
		t.Error("missing GEMINI_API_KEY accepted")
	}
}

func TestSimilarityThresholdIgnoresGarbage(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SIMILARITY_THRESHOLD", "nonsense")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SimilarityThreshold != 0.8 {
		t.Errorf("SimilarityThreshold = %v, want default kept", cfg.SimilarityThreshold)
	}
}
