// Package feed loads the configured RSS source list and normalizes feed
// entries into canonical articles.
package feed

import (
	"context"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/deusflow/finbrief/internal/article"
	"github.com/deusflow/finbrief/internal/logger"
	"github.com/deusflow/finbrief/internal/webfetch"
)

// Source is one configured RSS feed.
type Source struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// SourcesConfig is the YAML config structure
// sources:
//   - name: Reuters Business
//     url: https://...
type SourcesConfig struct {
	Sources []Source `yaml:"sources"`
}

// LoadSources reads the RSS source list from a YAML file.
func LoadSources(path string) ([]Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg SourcesConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return cfg.Sources, nil
}

// Fetcher downloads and parses all configured feeds.
type Fetcher struct {
	sources     []Source
	client      *http.Client
	parser      *gofeed.Parser
	concurrency int
}

func NewFetcher(sources []Source, timeout time.Duration, concurrency int) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Fetcher{
		sources:     sources,
		client:      webfetch.NewClient(timeout),
		parser:      gofeed.NewParser(),
		concurrency: concurrency,
	}
}

// FetchAll retrieves every feed under the concurrency cap. Results keep
// source-list order regardless of completion order; fuzzy dedup downstream
// depends on this. A failing source degrades to zero items.
func (f *Fetcher) FetchAll(ctx context.Context) []article.Article {
	perSource := make([][]article.Article, len(f.sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, src := range f.sources {
		g.Go(func() error {
			items, err := f.fetchOne(gctx, src)
			if err != nil {
				logger.Warn("feed fetch failed", "source", src.Name, "url", src.URL, "error", err)
				return nil
			}
			logger.Debug("feed fetched", "source", src.Name, "items", len(items))
			perSource[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var all []article.Article
	for _, items := range perSource {
		all = append(all, items...)
	}
	logger.Info("feeds fetched", "sources", len(f.sources), "items", len(all))
	return all
}

func (f *Fetcher) fetchOne(ctx context.Context, src Source) ([]article.Article, error) {
	// Download with browser headers first; several hosts 403 the default
	// gofeed transport.
	body, err := webfetch.Fetch(ctx, f.client, src.URL, nil)
	if err != nil {
		return nil, err
	}
	parsed, err := f.parser.ParseString(string(body))
	if err != nil {
		return nil, err
	}
	return Normalize(src.Name, parsed.Items), nil
}

// Normalize converts raw feed items into canonical articles. Items missing
// a link or title are skipped; one bad entry never aborts the batch.
func Normalize(sourceName string, items []*gofeed.Item) []article.Article {
	out := make([]article.Article, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		link := strings.TrimSpace(item.Link)
		title := strings.TrimSpace(item.Title)
		if link == "" || title == "" {
			continue
		}
		out = append(out, article.Article{
			URL:         link,
			Title:       title,
			Snippet:     Snippet(item.Description),
			Source:      sourceName,
			PublishedAt: item.PublishedParsed,
		})
	}
	return out
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

// Snippet strips markup and collapses whitespace in a feed description.
func Snippet(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}
