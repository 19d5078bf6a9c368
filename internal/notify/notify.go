// Package notify delivers the daily briefing and failure alerts to a
// Discord-compatible webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/deusflow/finbrief/internal/article"
	"github.com/deusflow/finbrief/internal/feed"
	"github.com/deusflow/finbrief/internal/logger"
	"github.com/deusflow/finbrief/internal/pipeline"
	"github.com/deusflow/finbrief/internal/retry"
)

// Discord rejects messages above 2000 characters.
const maxMessageRunes = 2000

type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// PublishReport posts the formatted daily briefing.
func (w *Webhook) PublishReport(ctx context.Context, report pipeline.Report) error {
	return w.send(ctx, formatReport(report))
}

// SendError posts a failure alert. Errors here are logged and swallowed;
// an alert about a failure must not itself fail the run.
func (w *Webhook) SendError(ctx context.Context, message string) {
	text := fmt.Sprintf("⚠️ **Pipeline error**\n%s", message)
	if err := w.send(ctx, text); err != nil {
		logger.Error("error alert delivery failed", "error", err)
	}
}

func (w *Webhook) send(ctx context.Context, content string) error {
	if w.url == "" {
		logger.Debug("webhook not configured, skipping delivery")
		return nil
	}
	content = article.Truncate(content, maxMessageRunes)

	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	cfg := retry.Config{MaxAttempts: 3, Delay: 2 * time.Second, Backoff: true}
	return retry.WithRetry(ctx, cfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		return nil
	})
}

const summaryRunes = 800

func formatReport(r pipeline.Report) string {
	var b strings.Builder

	icon := "🔥"
	if r.Sentiment < 0 {
		icon = "❄️"
	}
	fmt.Fprintf(&b, "📰 **Market briefing %s** %s %.2f\n\n", r.Date.Format("2006-01-02"), icon, r.Sentiment)
	// Summaries occasionally arrive with residual markup.
	b.WriteString(article.Truncate(feed.Snippet(r.Summary), summaryRunes))
	b.WriteString("\n")

	if len(r.Entities) > 0 {
		b.WriteString("\n**In focus:** ")
		tags := make([]string, 0, len(r.Entities))
		for _, e := range r.Entities {
			tag := e.Name
			if e.Ticker != "" {
				tag = fmt.Sprintf("%s (%s)", e.Name, e.Ticker)
			}
			tags = append(tags, tag)
		}
		b.WriteString(strings.Join(tags, ", "))
		b.WriteString("\n")
	}

	if len(r.SectorStats) > 0 {
		b.WriteString("\n**Sectors:** ")
		b.WriteString(formatSectors(r.SectorStats))
		b.WriteString("\n")
	}

	if len(r.KeywordCounts) > 0 {
		b.WriteString("\n**Watchlist hits:** ")
		b.WriteString(formatCounts(r.KeywordCounts))
		b.WriteString("\n")
	}

	if len(r.Trending) > 0 {
		words := make([]string, 0, len(r.Trending))
		for _, t := range r.Trending {
			words = append(words, fmt.Sprintf("%s (%d)", t.Word, t.Count))
		}
		fmt.Fprintf(&b, "\n**Trending:** %s\n", strings.Join(words, ", "))
	}

	fmt.Fprintf(&b, "\n_%d articles analyzed_", r.ArticleCount)
	return b.String()
}

func formatSectors(sectors map[string]float64) string {
	keys := make([]string, 0, len(sectors))
	for k := range sectors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %+.2f", k, sectors[k]))
	}
	return strings.Join(parts, " · ")
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s ×%d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}
