// Package gemini wraps the generative-ai SDK with the settings this
// pipeline needs: fully relaxed safety thresholds (finance headlines trip
// violence/fraud heuristics constantly), switchable structured/free-text
// output, and error classification for the orchestrator's fallback loop.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrSafetyBlocked marks a response suppressed by content-policy
// heuristics rather than a transport failure. The orchestrator recovers
// via a free-text retry.
var ErrSafetyBlocked = errors.New("gemini: response blocked by safety filters")

var relaxedSafety = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
}

type Client struct {
	client *genai.Client
}

func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Client{client: client}, nil
}

func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Generate runs one prompt against one model. jsonMode requests
// schema-constrained JSON output; otherwise plain text. A safety-suppressed
// response surfaces as ErrSafetyBlocked.
func (c *Client) Generate(ctx context.Context, model, prompt string, jsonMode bool) (string, error) {
	m := c.client.GenerativeModel(model)
	m.SafetySettings = relaxedSafety
	if jsonMode {
		m.ResponseMIMEType = "application/json"
	} else {
		m.ResponseMIMEType = "text/plain"
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		if looksBlocked(err.Error()) {
			return "", fmt.Errorf("%w: %s", ErrSafetyBlocked, err.Error())
		}
		return "", err
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason == genai.BlockReasonSafety {
		return "", ErrSafetyBlocked
	}
	if len(resp.Candidates) == 0 {
		return "", ErrSafetyBlocked
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", ErrSafetyBlocked
	}
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return "", ErrSafetyBlocked
	}

	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrSafetyBlocked
	}
	return text, nil
}

// IsSafetyBlocked reports whether err is a content-policy refusal.
func IsSafetyBlocked(err error) bool {
	return errors.Is(err, ErrSafetyBlocked)
}

// IsRateLimited reports whether err is a quota/rate-limit signal.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "Too Many Requests") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(strings.ToLower(msg), "quota")
}

func looksBlocked(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "safety") || strings.Contains(lower, "blocked")
}
