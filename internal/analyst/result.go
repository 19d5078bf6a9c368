package analyst

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/deusflow/finbrief/internal/article"
)

// Origin records how a result was obtained: parsed straight from a
// structured response, or salvaged out of a free-text retry after a
// safety block.
type Origin int

const (
	OriginNative Origin = iota
	OriginExtracted
)

func (o Origin) String() string {
	if o == OriginExtracted {
		return "extracted"
	}
	return "native"
}

// Entity is one company or instrument the model flagged as affected.
type Entity struct {
	Name      string  `json:"name"`
	Ticker    string  `json:"ticker,omitempty"`
	Sentiment float64 `json:"sentiment"`
}

// CategoryAssignment maps an article (by its position in the analyzed
// batch) to a topical category.
type CategoryAssignment struct {
	ID       int    `json:"id"`
	Category string `json:"category"`
}

// AnalysisResult is the model's structured read of one day's news.
type AnalysisResult struct {
	SentimentScore float64              `json:"sentiment_score"`
	Dimensions     map[string]float64   `json:"dimensions,omitempty"`
	Entities       []Entity             `json:"entities,omitempty"`
	Summary        string               `json:"summary"`
	Categories     []CategoryAssignment `json:"categories,omitempty"`
	SectorStats    map[string]float64   `json:"sector_stats,omitempty"`

	Origin Origin `json:"-"`
}

// Validate checks the fields downstream consumers depend on. A result
// failing validation is treated like a malformed response and retried.
func (r *AnalysisResult) Validate() error {
	if strings.TrimSpace(r.Summary) == "" {
		return fmt.Errorf("empty summary")
	}
	if r.SentimentScore < -1 || r.SentimentScore > 1 {
		return fmt.Errorf("sentiment score %.2f out of range", r.SentimentScore)
	}
	return nil
}

// ApplyCategories writes the model's per-article categories back onto the
// analyzed batch. Out-of-range IDs are ignored; articles the model did not
// label keep the default category.
func (r *AnalysisResult) ApplyCategories(items []article.Article) {
	for i := range items {
		if items[i].Category == "" {
			items[i].Category = article.DefaultCategory
		}
	}
	for _, c := range r.Categories {
		if c.ID < 0 || c.ID >= len(items) || strings.TrimSpace(c.Category) == "" {
			continue
		}
		items[c.ID].Category = c.Category
	}
}

var jsonBlockRe = regexp.MustCompile(`(?s)\{.*\}|\[.*\]`)

// ExtractJSON pulls the first JSON object or array out of surrounding
// prose. Models answering in text mode tend to wrap the payload in
// explanation or markdown fences.
func ExtractJSON(text string) (string, bool) {
	match := jsonBlockRe.FindString(text)
	if match == "" {
		return "", false
	}
	return match, true
}

func parseResult(text string) (*AnalysisResult, error) {
	var result AnalysisResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analysis: %w", err)
	}
	return &result, nil
}
