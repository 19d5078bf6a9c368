// Package newsapi pulls articles from the paginated market-news JSON API
// (cnyes-style newslist endpoint) and normalizes them into canonical
// articles. Unlike RSS items these arrive with body text attached.
package newsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/deusflow/finbrief/internal/article"
	"github.com/deusflow/finbrief/internal/feed"
	"github.com/deusflow/finbrief/internal/logger"
	"github.com/deusflow/finbrief/internal/webfetch"
)

type Config struct {
	BaseURL    string
	LinkBase   string
	Categories []string
	Pages      int
	PageLimit  int
	Timeout    time.Duration
	PagePause  time.Duration
}

type Client struct {
	cfg    Config
	client *http.Client
	sleep  func(time.Duration)
}

func NewClient(cfg Config) *Client {
	if cfg.Pages < 1 {
		cfg.Pages = 1
	}
	if cfg.PageLimit < 1 {
		cfg.PageLimit = 30
	}
	if cfg.PagePause <= 0 {
		cfg.PagePause = time.Second
	}
	return &Client{
		cfg:    cfg,
		client: webfetch.NewClient(cfg.Timeout),
		sleep:  time.Sleep,
	}
}

// API payload shape: {"items": {"data": [...]}}
type apiResponse struct {
	Items struct {
		Data []apiItem `json:"data"`
	} `json:"items"`
}

type apiItem struct {
	NewsID    int64  `json:"newsId"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Content   string `json:"content"`
	PublishAt int64  `json:"publishAt"`
}

// FetchAll walks every configured category page by page. A failing page is
// logged and skipped; items repeated across pages or categories are
// reported once.
func (c *Client) FetchAll(ctx context.Context) []article.Article {
	var all []article.Article
	seen := make(map[int64]struct{})

	for _, cat := range c.cfg.Categories {
		for page := 1; page <= c.cfg.Pages; page++ {
			items, err := c.fetchPage(ctx, cat, page)
			if err != nil {
				logger.Warn("news API page failed", "category", cat, "page", page, "error", err)
				continue
			}
			for _, it := range items {
				if _, dup := seen[it.NewsID]; dup {
					continue
				}
				seen[it.NewsID] = struct{}{}
				if a, ok := c.normalize(cat, it); ok {
					all = append(all, a)
				}
			}
			c.sleep(c.cfg.PagePause)
		}
	}

	logger.Info("news API fetched", "categories", len(c.cfg.Categories), "items", len(all))
	return all
}

func (c *Client) fetchPage(ctx context.Context, category string, page int) ([]apiItem, error) {
	url := fmt.Sprintf("%s/newslist/category/%s?page=%d&limit=%d", c.cfg.BaseURL, category, page, c.cfg.PageLimit)
	body, err := webfetch.Fetch(ctx, c.client, url, map[string]string{
		"Origin":  c.cfg.LinkBase,
		"Referer": c.cfg.LinkBase,
	})
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return resp.Items.Data, nil
}

func (c *Client) normalize(category string, it apiItem) (article.Article, bool) {
	if it.NewsID == 0 || it.Title == "" {
		return article.Article{}, false
	}

	a := article.Article{
		URL:      fmt.Sprintf("%s/%d", c.cfg.LinkBase, it.NewsID),
		Title:    it.Title,
		Snippet:  feed.Snippet(it.Summary),
		FullText: article.Truncate(feed.Snippet(it.Content), article.MaxContentRunes),
		Source:   fmt.Sprintf("cnyes(%s)", category),
	}
	if it.PublishAt > 0 {
		t := time.Unix(it.PublishAt, 0).UTC()
		a.PublishedAt = &t
	}
	return a, true
}
