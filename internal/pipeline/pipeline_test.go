package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deusflow/finbrief/internal/analyst"
	"github.com/deusflow/finbrief/internal/article"
	"github.com/deusflow/finbrief/internal/filter"
	"github.com/deusflow/finbrief/internal/storage"
)

// memStore mimics the persistence merge rules in memory.
type memStore struct {
	mu       sync.Mutex
	articles map[string]article.Article
	stats    map[string]storage.DailyStats
	saves    int
}

func newMemStore() *memStore {
	return &memStore{
		articles: make(map[string]article.Article),
		stats:    make(map[string]storage.DailyStats),
	}
}

func (s *memStore) IsKnownURL(url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.articles[url]
	return ok, nil
}

func (s *memStore) SaveArticle(a article.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if a.Category == "" {
		a.Category = article.DefaultCategory
	}
	existing, ok := s.articles[a.URL]
	if !ok {
		s.articles[a.URL] = a
		return nil
	}
	if len(a.FullText) > len(existing.FullText) {
		existing.FullText = a.FullText
	}
	if a.Category != article.DefaultCategory {
		existing.Category = a.Category
	}
	s.articles[a.URL] = existing
	return nil
}

func (s *memStore) CleanupOldArticles(days int) (int64, error) { return 0, nil }

func (s *memStore) SaveDailyStats(day time.Time, score float64, summary string, sectors map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[day.Format("2006-01-02")] = storage.DailyStats{
		Date:           day,
		SentimentScore: score,
		Summary:        summary,
		SectorStats:    sectors,
	}
	return nil
}

func (s *memStore) LastStats() (*storage.DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *storage.DailyStats
	for _, st := range s.stats {
		st := st
		if latest == nil || st.Date.After(latest.Date) {
			latest = &st
		}
	}
	return latest, nil
}

func (s *memStore) RecentTitles(days int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var titles []string
	for _, a := range s.articles {
		titles = append(titles, a.Title)
	}
	return titles, nil
}

type staticHarvester struct{ items []article.Article }

func (h staticHarvester) FetchAll(ctx context.Context) []article.Article { return h.items }

type mapFetcher struct{ content map[string]string }

func (f mapFetcher) FetchAll(ctx context.Context, urls []string) map[string]string {
	out := make(map[string]string)
	for _, u := range urls {
		if text, ok := f.content[u]; ok {
			out[u] = text
		}
	}
	return out
}

type fakeAnalyzer struct {
	result *analyst.AnalysisResult
	err    error
	calls  int
	lastIn []article.Article
	prior  *analyst.Context
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, items []article.Article, prior *analyst.Context) (*analyst.AnalysisResult, error) {
	a.calls++
	a.lastIn = items
	a.prior = prior
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}

type fakePublisher struct {
	reports []Report
	err     error
}

func (p *fakePublisher) PublishReport(ctx context.Context, report Report) error {
	p.reports = append(p.reports, report)
	return p.err
}

func goodResult() *analyst.AnalysisResult {
	return &analyst.AnalysisResult{
		SentimentScore: 0.4,
		Summary:        "Quiet session, mild optimism.",
		SectorStats:    map[string]float64{"tech": 0.6},
		Categories:     []analyst.CategoryAssignment{{ID: 0, Category: "Tech"}},
	}
}

func testItems() []article.Article {
	return []article.Article{
		{URL: "https://example.com/1", Title: "Chipmaker beats earnings estimates", Snippet: "Solid quarter.", FullText: "Revenue and margins both came in ahead of guidance.", Source: "api"},
		{URL: "https://example.com/2", Title: "Central bank holds rates steady", Snippet: "No change.", FullText: "The policy rate was left unchanged as expected.", Source: "api"},
	}
}

func TestRunOncePersistsAndPublishes(t *testing.T) {
	store := newMemStore()
	az := &fakeAnalyzer{result: goodResult()}
	pub := &fakePublisher{}
	p := New(store, []Harvester{staticHarvester{items: testItems()}}, mapFetcher{}, az, pub, filter.Filter{},
		Options{SimilarityThreshold: 0.8})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if az.calls != 1 {
		t.Fatalf("analyzer calls = %d, want 1", az.calls)
	}
	if len(az.lastIn) != 2 {
		t.Errorf("analyzed %d articles, want 2", len(az.lastIn))
	}
	if az.prior != nil {
		t.Error("cold start should have no prior context")
	}
	if len(store.stats) != 1 {
		t.Errorf("stats rows = %d, want 1", len(store.stats))
	}
	if len(pub.reports) != 1 {
		t.Fatalf("published reports = %d, want 1", len(pub.reports))
	}
	if pub.reports[0].Sentiment != 0.4 || pub.reports[0].ArticleCount != 2 {
		t.Errorf("report = %+v", pub.reports[0])
	}
	// Category from the analysis lands on the stored article.
	if got := store.articles["https://example.com/1"].Category; got != "Tech" {
		t.Errorf("stored category = %q, want Tech", got)
	}
}

func TestRunOnceSkipsKnownURLs(t *testing.T) {
	store := newMemStore()
	az := &fakeAnalyzer{result: goodResult()}
	p := New(store, []Harvester{staticHarvester{items: testItems()}}, mapFetcher{}, az, nil, filter.Filter{},
		Options{SimilarityThreshold: 0.8})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if az.calls != 1 {
		t.Errorf("analyzer calls = %d, want 1 (second run has nothing new)", az.calls)
	}
}

func TestRunOnceRecordsExcludedArticles(t *testing.T) {
	items := []article.Article{
		{URL: "https://example.com/ad", Title: "Sponsored: crypto riches await", FullText: "x", Source: "api"},
		{URL: "https://example.com/real", Title: "Factory output rises in July", FullText: "x", Source: "api"},
	}
	store := newMemStore()
	az := &fakeAnalyzer{result: goodResult()}
	f := filter.New(nil, []string{"Sponsored"})
	p := New(store, []Harvester{staticHarvester{items: items}}, mapFetcher{}, az, nil, f,
		Options{SimilarityThreshold: 0.8})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(az.lastIn) != 1 {
		t.Fatalf("analyzed %d articles, want 1", len(az.lastIn))
	}
	// Excluded articles are still recorded so the next run skips them.
	if known, _ := store.IsKnownURL("https://example.com/ad"); !known {
		t.Error("excluded article not recorded as seen")
	}
}

func TestRunOnceFiltersNearDuplicateTitles(t *testing.T) {
	items := []article.Article{
		{URL: "https://a.example.com/1", Title: "Apple shares surge after record iPhone quarter", FullText: "x", Source: "one"},
		{URL: "https://b.example.com/1", Title: "Apple shares surge after record iPhone quarters", FullText: "x", Source: "two"},
	}
	store := newMemStore()
	az := &fakeAnalyzer{result: goodResult()}
	p := New(store, []Harvester{staticHarvester{items: items}}, mapFetcher{}, az, nil, filter.Filter{},
		Options{SimilarityThreshold: 0.8})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(az.lastIn) != 1 {
		t.Fatalf("analyzed %d articles, want 1 after fuzzy dedup", len(az.lastIn))
	}
	if az.lastIn[0].Source != "one" {
		t.Errorf("kept source %q, want first-seen to win", az.lastIn[0].Source)
	}
}

func TestRunOnceFetchesMissingContentAndDropsEmpty(t *testing.T) {
	items := []article.Article{
		{URL: "https://example.com/full", Title: "Bond yields climb on supply worries", Source: "rss"},
		{URL: "https://example.com/gone", Title: "Retailer warns on margins", Source: "rss"},
		// A snippet is not enough: a failed fetch still drops the item.
		{URL: "https://example.com/teaser", Title: "Insurer flags storm losses", Snippet: "Early estimates point to a heavy quarter.", Source: "rss"},
	}
	store := newMemStore()
	az := &fakeAnalyzer{result: goodResult()}
	fetcher := mapFetcher{content: map[string]string{
		"https://example.com/full": "Yields moved higher across the curve.",
	}}
	p := New(store, []Harvester{staticHarvester{items: items}}, fetcher, az, nil, filter.Filter{},
		Options{SimilarityThreshold: 0.8})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(az.lastIn) != 1 {
		t.Fatalf("analyzed %d articles, want 1 (fetch failures dropped)", len(az.lastIn))
	}
	if az.lastIn[0].URL != "https://example.com/full" {
		t.Errorf("analyzed %q, want the article whose fetch succeeded", az.lastIn[0].URL)
	}
	if az.lastIn[0].FullText == "" {
		t.Error("fetched content not attached before analysis")
	}
}

func TestRunOnceSkipsAnalysisWhenNoContentSurvives(t *testing.T) {
	items := []article.Article{
		{URL: "https://example.com/a", Title: "Exchange outage halts trading", Snippet: "Brief outage.", Source: "rss"},
	}
	store := newMemStore()
	az := &fakeAnalyzer{result: goodResult()}
	p := New(store, []Harvester{staticHarvester{items: items}}, mapFetcher{}, az, nil, filter.Filter{},
		Options{SimilarityThreshold: 0.8})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if az.calls != 0 {
		t.Fatalf("analyzer calls = %d, want 0 when every fetch failed", az.calls)
	}
	// The article is still recorded as seen.
	if known, _ := store.IsKnownURL("https://example.com/a"); !known {
		t.Error("fetch-failed article not recorded as seen")
	}
}

func TestRunOnceAnalysisFailureAborts(t *testing.T) {
	store := newMemStore()
	az := &fakeAnalyzer{err: errors.New("model unavailable")}
	pub := &fakePublisher{}
	p := New(store, []Harvester{staticHarvester{items: testItems()}}, mapFetcher{}, az, pub, filter.Filter{},
		Options{SimilarityThreshold: 0.8})

	if err := p.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error when analysis fails")
	}
	if len(store.stats) != 0 {
		t.Error("stats saved despite failed analysis")
	}
	if len(pub.reports) != 0 {
		t.Error("report published despite failed analysis")
	}
}

func TestRunOncePassesPriorContext(t *testing.T) {
	store := newMemStore()
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	store.SaveDailyStats(yesterday, -0.6, "Heavy selling across tech.", nil)

	az := &fakeAnalyzer{result: goodResult()}
	p := New(store, []Harvester{staticHarvester{items: testItems()}}, mapFetcher{}, az, nil, filter.Filter{},
		Options{SimilarityThreshold: 0.8})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if az.prior == nil {
		t.Fatal("prior context not passed to analyzer")
	}
	if az.prior.Score != -0.6 || az.prior.Summary != "Heavy selling across tech." {
		t.Errorf("prior = %+v", az.prior)
	}
}

func TestRunOnceSameDayRerunOverwritesStats(t *testing.T) {
	store := newMemStore()
	az := &fakeAnalyzer{result: goodResult()}
	p := New(store, []Harvester{staticHarvester{items: testItems()}}, mapFetcher{}, az, nil, filter.Filter{},
		Options{SimilarityThreshold: 0.8})
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// New articles on the same day; stats row must be replaced, not added.
	more := []article.Article{
		{URL: "https://example.com/3", Title: "Oil slips on demand outlook", FullText: "x", Source: "api"},
	}
	az.result = &analyst.AnalysisResult{SentimentScore: -0.2, Summary: "Mood cooled in the afternoon."}
	p2 := New(store, []Harvester{staticHarvester{items: more}}, mapFetcher{}, az, nil, filter.Filter{},
		Options{SimilarityThreshold: 0.8})
	if err := p2.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(store.stats) != 1 {
		t.Fatalf("stats rows = %d, want 1", len(store.stats))
	}
	for _, st := range store.stats {
		if st.SentimentScore != -0.2 {
			t.Errorf("stats not overwritten: %+v", st)
		}
	}
}

func TestRunOncePublishFailureDoesNotAbort(t *testing.T) {
	store := newMemStore()
	az := &fakeAnalyzer{result: goodResult()}
	pub := &fakePublisher{err: errors.New("webhook down")}
	p := New(store, []Harvester{staticHarvester{items: testItems()}}, mapFetcher{}, az, pub, filter.Filter{},
		Options{SimilarityThreshold: 0.8})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(store.stats) != 1 {
		t.Error("stats missing after publish failure")
	}
}
