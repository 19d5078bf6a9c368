// Package pipeline wires one end-to-end run: harvest, dedup, filter,
// content fetch, analysis, persistence and the published report.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/deusflow/finbrief/internal/analyst"
	"github.com/deusflow/finbrief/internal/article"
	"github.com/deusflow/finbrief/internal/dedup"
	"github.com/deusflow/finbrief/internal/filter"
	"github.com/deusflow/finbrief/internal/keywords"
	"github.com/deusflow/finbrief/internal/logger"
	"github.com/deusflow/finbrief/internal/metrics"
	"github.com/deusflow/finbrief/internal/storage"
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	IsKnownURL(url string) (bool, error)
	SaveArticle(a article.Article) error
	CleanupOldArticles(days int) (int64, error)
	SaveDailyStats(day time.Time, score float64, summary string, sectors map[string]float64) error
	LastStats() (*storage.DailyStats, error)
	RecentTitles(days int) ([]string, error)
}

// Harvester produces candidate articles from one upstream (RSS, news API).
type Harvester interface {
	FetchAll(ctx context.Context) []article.Article
}

// ContentFetcher retrieves full text for article URLs; missing keys mean
// the fetch failed.
type ContentFetcher interface {
	FetchAll(ctx context.Context, urls []string) map[string]string
}

// Analyzer produces the structured market read for the accepted batch.
type Analyzer interface {
	Analyze(ctx context.Context, items []article.Article, prior *analyst.Context) (*analyst.AnalysisResult, error)
}

// Publisher delivers the finished report somewhere people read it.
type Publisher interface {
	PublishReport(ctx context.Context, report Report) error
}

// Report is everything the daily briefing contains.
type Report struct {
	Date          time.Time
	Sentiment     float64
	Summary       string
	Entities      []analyst.Entity
	SectorStats   map[string]float64
	KeywordCounts map[string]int
	Trending      []keywords.Count
	ArticleCount  int
	Origin        analyst.Origin
}

type Options struct {
	RetentionDays       int
	SimilarityThreshold float64
	Watchlist           []string
	TrendingDays        int
	TrendingTopN        int
}

type Pipeline struct {
	store      Store
	harvesters []Harvester
	fetcher    ContentFetcher
	analyzer   Analyzer
	publisher  Publisher
	filter     filter.Filter
	opts       Options
}

// New assembles a pipeline. publisher may be nil; the run then only
// persists. Harvesters run in the given order, which fixes dedup priority:
// earlier sources win ties.
func New(store Store, harvesters []Harvester, fetcher ContentFetcher, analyzer Analyzer, publisher Publisher, f filter.Filter, opts Options) *Pipeline {
	if opts.TrendingDays < 1 {
		opts.TrendingDays = 7
	}
	if opts.TrendingTopN < 1 {
		opts.TrendingTopN = 10
	}
	return &Pipeline{
		store:      store,
		harvesters: harvesters,
		fetcher:    fetcher,
		analyzer:   analyzer,
		publisher:  publisher,
		filter:     f,
		opts:       opts,
	}
}

// RunOnce executes a complete cycle. Upstream and publish failures degrade;
// only persistence and analysis failures abort the run.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	start := time.Now()

	if p.opts.RetentionDays > 0 {
		if removed, err := p.store.CleanupOldArticles(p.opts.RetentionDays); err != nil {
			logger.Warn("cleanup failed", "error", err)
		} else if removed > 0 {
			logger.Info("old articles removed", "count", removed)
		}
	}

	var harvested []article.Article
	for _, h := range p.harvesters {
		harvested = append(harvested, h.FetchAll(ctx)...)
	}
	metrics.Global.AddItemsSeen(int64(len(harvested)))
	logger.Info("harvest complete", "items", len(harvested))

	accepted := p.selectCandidates(harvested)
	if len(accepted) == 0 {
		logger.Info("no new relevant articles this run")
		metrics.Global.RecordRun(time.Since(start))
		return nil
	}

	accepted = p.fillContent(ctx, accepted)
	if len(accepted) == 0 {
		logger.Info("no articles with usable content this run")
		metrics.Global.RecordRun(time.Since(start))
		return nil
	}

	prior, err := p.priorContext()
	if err != nil {
		logger.Warn("loading previous stats failed, analyzing without baseline", "error", err)
	}

	result, err := p.analyzer.Analyze(ctx, accepted, prior)
	if err != nil {
		metrics.Global.SetError(err.Error())
		return fmt.Errorf("analysis failed: %w", err)
	}
	result.ApplyCategories(accepted)

	// Second save picks up category and fetched content via the merge rules.
	for _, a := range accepted {
		if err := p.store.SaveArticle(a); err != nil {
			logger.Warn("article update failed", "url", a.URL, "error", err)
		}
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	if err := p.store.SaveDailyStats(today, result.SentimentScore, result.Summary, result.SectorStats); err != nil {
		metrics.Global.SetError(err.Error())
		return fmt.Errorf("saving daily stats failed: %w", err)
	}

	report := p.buildReport(today, result, accepted)
	if p.publisher != nil {
		if err := p.publisher.PublishReport(ctx, report); err != nil {
			logger.Error("report publish failed", "error", err)
		}
	}

	metrics.Global.RecordRun(time.Since(start))
	logger.Info("run complete",
		"analyzed", len(accepted),
		"sentiment", result.SentimentScore,
		"origin", result.Origin.String(),
		"duration", time.Since(start))
	return nil
}

// selectCandidates walks the harvest in order and keeps articles that are
// new, relevant and not near-duplicates. Every new URL is recorded in the
// store immediately, accepted or not, so the next run skips it.
func (p *Pipeline) selectCandidates(harvested []article.Article) []article.Article {
	seenURLs := make(map[string]struct{}, len(harvested))
	registry := dedup.NewRegistry(p.opts.SimilarityThreshold)
	var accepted []article.Article

	for _, a := range harvested {
		if _, dup := seenURLs[a.URL]; dup {
			continue
		}
		seenURLs[a.URL] = struct{}{}

		known, err := p.store.IsKnownURL(a.URL)
		if err != nil {
			logger.Warn("known-URL check failed", "url", a.URL, "error", err)
		}
		if known {
			continue
		}
		if err := p.store.SaveArticle(a); err != nil {
			logger.Warn("article save failed", "url", a.URL, "error", err)
		}

		if !p.filter.Accept(a.Text()) {
			metrics.Global.IncrementItemsExcluded()
			continue
		}
		if registry.IsNearDuplicate(a.Title) {
			metrics.Global.IncrementDuplicatesFiltered()
			continue
		}
		registry.Accept(a.Title)
		accepted = append(accepted, a)
	}

	logger.Info("candidate selection done", "harvested", len(harvested), "accepted", len(accepted))
	return accepted
}

// fillContent fetches full text for articles that arrived without one.
// Articles still lacking full text afterwards are dropped: a title or
// snippet alone is not enough to analyze.
func (p *Pipeline) fillContent(ctx context.Context, items []article.Article) []article.Article {
	var missing []string
	for _, a := range items {
		if a.FullText == "" {
			missing = append(missing, a.URL)
		}
	}

	if len(missing) > 0 && p.fetcher != nil {
		fetched := p.fetcher.FetchAll(ctx, missing)
		for i := range items {
			if items[i].FullText == "" {
				items[i].FullText = fetched[items[i].URL]
			}
		}
	}

	out := items[:0]
	for _, a := range items {
		if a.FullText == "" {
			logger.Debug("dropping article without content", "url", a.URL)
			continue
		}
		out = append(out, a)
	}
	return out
}

func (p *Pipeline) priorContext() (*analyst.Context, error) {
	stats, err := p.store.LastStats()
	if err != nil || stats == nil {
		return nil, err
	}
	return &analyst.Context{Summary: stats.Summary, Score: stats.SentimentScore}, nil
}

func (p *Pipeline) buildReport(day time.Time, result *analyst.AnalysisResult, items []article.Article) Report {
	report := Report{
		Date:          day,
		Sentiment:     result.SentimentScore,
		Summary:       result.Summary,
		Entities:      result.Entities,
		SectorStats:   result.SectorStats,
		KeywordCounts: keywords.Counts(p.opts.Watchlist, items),
		ArticleCount:  len(items),
		Origin:        result.Origin,
	}

	titles, err := p.store.RecentTitles(p.opts.TrendingDays)
	if err != nil {
		logger.Warn("loading recent titles failed", "error", err)
	} else {
		report.Trending = keywords.Trending(titles, p.opts.Watchlist, p.opts.TrendingTopN)
	}
	return report
}
