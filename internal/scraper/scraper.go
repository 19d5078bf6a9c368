// Package scraper retrieves full article bodies for candidates that
// survived filtering and dedup. Fetches run under a small concurrency cap
// with a shared politeness delay; any failure simply leaves the URL out of
// the result map.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/deusflow/finbrief/internal/article"
	"github.com/deusflow/finbrief/internal/logger"
	"github.com/deusflow/finbrief/internal/metrics"
	"github.com/deusflow/finbrief/internal/webfetch"
)

type Scraper struct {
	client      *http.Client
	limiter     *rate.Limiter
	concurrency int
	maxRunes    int
}

func New(timeout, delay time.Duration, concurrency int) *Scraper {
	if concurrency < 1 {
		concurrency = 1
	}
	if delay <= 0 {
		delay = time.Millisecond
	}
	return &Scraper{
		client:      webfetch.NewClient(timeout),
		limiter:     rate.NewLimiter(rate.Every(delay), 1),
		concurrency: concurrency,
		maxRunes:    article.MaxContentRunes,
	}
}

// FetchAll extracts readable text for each URL. URLs that fail to fetch or
// yield no content are absent from the returned map.
func (s *Scraper) FetchAll(ctx context.Context, urls []string) map[string]string {
	results := make(map[string]string, len(urls))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, u := range urls {
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return nil
			}
			text, err := s.extract(gctx, u)
			if err != nil {
				logger.Debug("content fetch failed", "url", u, "error", err)
				metrics.Global.IncrementContentFailed()
				return nil
			}
			metrics.Global.IncrementContentFetched()
			mu.Lock()
			results[u] = text
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("content fetched", "requested", len(urls), "extracted", len(results))
	return results
}

func (s *Scraper) extract(ctx context.Context, rawURL string) (string, error) {
	body, err := webfetch.Fetch(ctx, s.client, rawURL, nil)
	if err != nil {
		return "", err
	}

	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	text := ""
	if art, rerr := readability.FromReader(bytes.NewReader(body), pageURL); rerr == nil {
		text = strings.TrimSpace(art.TextContent)
	}
	if text == "" {
		// Readability gives up on sparse or unusual markup; fall back to
		// plain paragraph selectors.
		text = extractGeneric(body)
	}
	if text == "" {
		return "", errors.New("no readable content")
	}

	text = strings.Join(strings.Fields(text), " ")
	return article.Truncate(text, s.maxRunes), nil
}

var genericSelectors = []string{
	"article p",
	".article-body p",
	".post-content p",
	".entry-content p",
	".content p",
	"main p",
	"#content p",
	"p",
}

// extractGeneric collects paragraph text using common content selectors,
// stopping at the first selector that yields a few real paragraphs.
func extractGeneric(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	for _, selector := range genericSelectors {
		var paragraphs []string
		doc.Find(selector).Each(func(i int, sel *goquery.Selection) {
			text := strings.TrimSpace(sel.Text())
			if len(text) > 20 {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) >= 3 {
			return strings.Join(paragraphs, "\n\n")
		}
		if len(paragraphs) > 0 && selector == "p" {
			return strings.Join(paragraphs, "\n\n")
		}
	}
	return ""
}
