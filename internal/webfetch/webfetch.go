// Package webfetch centralizes outbound HTTP: one client shape, one set of
// browser-like request headers. Several feed hosts and the market API
// reject requests with a default Go user agent.
package webfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

var browserHeaders = map[string]string{
	"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9,zh-TW;q=0.8",
	"Referer":                   "https://www.google.com/",
	"Upgrade-Insecure-Requests": "1",
	"Cache-Control":             "max-age=0",
	"Connection":                "keep-alive",
}

// NewClient returns an HTTP client with the given per-request timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// Fetch performs a GET with browser headers plus any extras and returns the
// body. Non-2xx statuses are errors.
func Fetch(ctx context.Context, client *http.Client, url string, extra map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("request %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}
	return body, nil
}
