// Package analyst turns the day's accepted articles into one structured
// market read. It owns the resilience policy around the model API: candidate
// model fallback, bounded retries with exponential backoff, rate-limit
// cooldowns, safety-block recovery through a free-text retry, and a
// map-reduce path when the batch is too large for a single prompt.
package analyst

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deusflow/finbrief/internal/article"
	"github.com/deusflow/finbrief/internal/gemini"
	"github.com/deusflow/finbrief/internal/logger"
	"github.com/deusflow/finbrief/internal/metrics"
)

// TextGenerator is the model call surface. jsonMode selects structured
// output; implementations report safety blocks and rate limits through
// errors classifiable by the gemini package helpers.
type TextGenerator interface {
	Generate(ctx context.Context, model, prompt string, jsonMode bool) (string, error)
}

// Notifier receives an alert when every model and retry has been exhausted.
type Notifier interface {
	SendError(ctx context.Context, message string)
}

// Options bound the resilience policy.
type Options struct {
	Models            []string
	MaxRetries        int
	BackoffBase       time.Duration
	RateLimitCooldown time.Duration
	MaxArticles       int
	MapThreshold      int
	MapBatchSize      int
	MapCooldown       time.Duration
}

// Context carries the previous snapshot into the prompt so the model
// reports changes against a baseline instead of restating it.
type Context struct {
	Summary string
	Score   float64
}

// ExhaustedError reports that every model/retry combination failed.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("analysis failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

type Analyst struct {
	gen      TextGenerator
	batchGen TextGenerator
	notifier Notifier
	opts     Options
	sleep    func(time.Duration)
}

// New builds an Analyst. batchGen serves the map phase and may run on a
// separate API key; pass nil to reuse the primary generator. notifier may
// be nil.
func New(gen, batchGen TextGenerator, notifier Notifier, opts Options) *Analyst {
	if batchGen == nil {
		batchGen = gen
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.MapBatchSize < 1 {
		opts.MapBatchSize = 30
	}
	return &Analyst{
		gen:      gen,
		batchGen: batchGen,
		notifier: notifier,
		opts:     opts,
		sleep:    time.Sleep,
	}
}

// Analyze produces the structured read for the batch. Oversized batches go
// through map-reduce; otherwise the batch is capped and analyzed in one
// structured call.
func (a *Analyst) Analyze(ctx context.Context, items []article.Article, prior *Context) (*AnalysisResult, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("nothing to analyze")
	}

	if a.opts.MapThreshold > 0 && len(items) > a.opts.MapThreshold {
		logger.Info("switching to map-reduce analysis", "articles", len(items), "threshold", a.opts.MapThreshold)
		return a.mapReduce(ctx, items, prior)
	}

	if a.opts.MaxArticles > 0 && len(items) > a.opts.MaxArticles {
		logger.Warn("capping analysis batch", "articles", len(items), "cap", a.opts.MaxArticles)
		items = items[:a.opts.MaxArticles]
	}
	return a.generateStructured(ctx, buildAnalysisPrompt(items, prior))
}

type outcomeKind int

const (
	outcomeOK outcomeKind = iota
	outcomeRetryable
	outcomeRateLimited
)

type attemptOutcome struct {
	kind   outcomeKind
	result *AnalysisResult
	err    error
}

// generateStructured walks the model candidate list up to MaxRetries
// rounds. A rate-limited model gets a cooldown before moving on; a failed
// round backs off exponentially before the next.
func (a *Analyst) generateStructured(ctx context.Context, prompt string) (*AnalysisResult, error) {
	attempts := 0
	var lastErr error

	for round := 1; round <= a.opts.MaxRetries; round++ {
		for _, model := range a.opts.Models {
			attempts++
			metrics.Global.IncrementAIAttempts()

			out := a.attempt(ctx, model, prompt)
			switch out.kind {
			case outcomeOK:
				logger.Info("analysis succeeded", "model", model, "round", round, "origin", out.result.Origin.String())
				return out.result, nil
			case outcomeRateLimited:
				lastErr = out.err
				logger.Warn("model rate limited", "model", model, "cooldown", a.opts.RateLimitCooldown)
				a.sleep(a.opts.RateLimitCooldown)
			default:
				lastErr = out.err
				logger.Warn("model attempt failed", "model", model, "round", round, "error", out.err)
			}

			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}

		if round < a.opts.MaxRetries {
			delay := a.opts.BackoffBase * (1 << (round - 1))
			logger.Info("backing off before next round", "round", round, "delay", delay)
			a.sleep(delay)
		}
	}

	metrics.Global.IncrementAIFailures()
	err := &ExhaustedError{Attempts: attempts, LastErr: lastErr}
	if a.notifier != nil {
		a.notifier.SendError(ctx, err.Error())
	}
	return nil, err
}

// attempt makes one structured call. A safety block triggers a free-text
// retry on the same model with the JSON payload extracted from the prose.
func (a *Analyst) attempt(ctx context.Context, model, prompt string) attemptOutcome {
	text, err := a.gen.Generate(ctx, model, prompt, true)
	if err == nil {
		result, perr := parseResult(text)
		if perr != nil {
			return attemptOutcome{kind: outcomeRetryable, err: perr}
		}
		result.Origin = OriginNative
		return attemptOutcome{kind: outcomeOK, result: result}
	}

	if gemini.IsRateLimited(err) {
		return attemptOutcome{kind: outcomeRateLimited, err: err}
	}
	if !gemini.IsSafetyBlocked(err) {
		return attemptOutcome{kind: outcomeRetryable, err: err}
	}

	logger.Warn("structured response blocked, retrying in text mode", "model", model)
	text, terr := a.gen.Generate(ctx, model, prompt, false)
	if terr != nil {
		if gemini.IsRateLimited(terr) {
			return attemptOutcome{kind: outcomeRateLimited, err: terr}
		}
		return attemptOutcome{kind: outcomeRetryable, err: terr}
	}

	raw, ok := ExtractJSON(text)
	if !ok {
		return attemptOutcome{kind: outcomeRetryable, err: fmt.Errorf("no JSON payload in text response")}
	}
	result, perr := parseResult(raw)
	if perr != nil {
		return attemptOutcome{kind: outcomeRetryable, err: perr}
	}
	result.Origin = OriginExtracted
	return attemptOutcome{kind: outcomeOK, result: result}
}

// mapReduce condenses each batch of articles into a few key events via
// free-text calls, then runs one structured call over the condensed
// summaries. A failed batch is dropped; only a fully failed map phase
// aborts the analysis.
func (a *Analyst) mapReduce(ctx context.Context, items []article.Article, prior *Context) (*AnalysisResult, error) {
	var summaries []string
	total := (len(items) + a.opts.MapBatchSize - 1) / a.opts.MapBatchSize

	for i := 0; i < len(items); i += a.opts.MapBatchSize {
		end := i + a.opts.MapBatchSize
		if end > len(items) {
			end = len(items)
		}
		batchNo := i/a.opts.MapBatchSize + 1

		summary, err := a.condenseBatch(ctx, items[i:end])
		if err != nil {
			logger.Warn("map batch failed", "batch", batchNo, "total", total, "error", err)
		} else {
			summaries = append(summaries, fmt.Sprintf("Batch %d: %s", batchNo, summary))
		}

		if end < len(items) {
			a.sleep(a.opts.MapCooldown)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if len(summaries) == 0 {
		metrics.Global.IncrementAIFailures()
		err := fmt.Errorf("map phase failed for all %d batches", total)
		if a.notifier != nil {
			a.notifier.SendError(ctx, err.Error())
		}
		return nil, err
	}

	logger.Info("map phase done", "batches", total, "succeeded", len(summaries))
	return a.generateStructured(ctx, buildReducePrompt(summaries, prior))
}

// condenseBatch asks for the batch's key events in plain text, trying each
// candidate model once.
func (a *Analyst) condenseBatch(ctx context.Context, batch []article.Article) (string, error) {
	prompt := buildMapPrompt(batch)
	var lastErr error
	for _, model := range a.opts.Models {
		metrics.Global.IncrementAIAttempts()
		text, err := a.batchGen.Generate(ctx, model, prompt, false)
		if err == nil {
			return strings.TrimSpace(text), nil
		}
		lastErr = err
		if gemini.IsRateLimited(err) {
			a.sleep(a.opts.RateLimitCooldown)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

const contentPreviewRunes = 200

func buildAnalysisPrompt(items []article.Article, prior *Context) string {
	var b strings.Builder
	b.WriteString(personaFor(prior))
	b.WriteString("\n\nAnalyze today's financial news and respond with a single JSON object:\n")
	b.WriteString(`{
  "sentiment_score": <overall market sentiment, -1.0 to 1.0>,
  "dimensions": {"policy": <0..1>, "market": <0..1>, "industry": <0..1>, "international": <0..1>, "technical": <0..1>},
  "entities": [{"name": "<company>", "ticker": "<symbol>", "sentiment": <-1.0 to 1.0>}],
  "summary": "<3-5 sentence market briefing>",
  "categories": [{"id": <article id>, "category": "<topic label>"}],
  "sector_stats": {"tech": <-1.0 to 1.0>, "finance": <-1.0 to 1.0>, "manufacturing": <-1.0 to 1.0>, "service": <-1.0 to 1.0>}
}`)
	b.WriteString("\n\n")
	writeContextLine(&b, prior)
	b.WriteString("\nArticles:\n")
	for i, it := range items {
		fmt.Fprintf(&b, "[ID:%d] [%s] %s\n", i, it.Source, it.Title)
		if body := it.Body(); body != "" {
			fmt.Fprintf(&b, "%s\n", article.Truncate(body, contentPreviewRunes))
		}
	}
	return b.String()
}

func buildMapPrompt(batch []article.Article) string {
	var b strings.Builder
	b.WriteString("You are a financial news editor. From the articles below, pick out the 3 most market-relevant key events and summarize each in one sentence. Plain text only.\n\nArticles:\n")
	for _, it := range batch {
		fmt.Fprintf(&b, "- [%s] %s\n", it.Source, it.Title)
		if body := it.Body(); body != "" {
			fmt.Fprintf(&b, "  %s\n", article.Truncate(body, contentPreviewRunes))
		}
	}
	return b.String()
}

func buildReducePrompt(summaries []string, prior *Context) string {
	var b strings.Builder
	b.WriteString(personaFor(prior))
	b.WriteString("\n\nThe day's news was condensed into the key events below. Synthesize them into a single JSON object:\n")
	b.WriteString(`{
  "sentiment_score": <overall market sentiment, -1.0 to 1.0>,
  "dimensions": {"policy": <0..1>, "market": <0..1>, "industry": <0..1>, "international": <0..1>, "technical": <0..1>},
  "entities": [{"name": "<company>", "ticker": "<symbol>", "sentiment": <-1.0 to 1.0>}],
  "summary": "<3-5 sentence market briefing>",
  "sector_stats": {"tech": <-1.0 to 1.0>, "finance": <-1.0 to 1.0>, "manufacturing": <-1.0 to 1.0>, "service": <-1.0 to 1.0>}
}`)
	b.WriteString("\n\n")
	writeContextLine(&b, prior)
	b.WriteString("\nKey events:\n")
	for _, s := range summaries {
		b.WriteString(s)
		b.WriteString("\n")
	}
	return b.String()
}

const priorSummaryRunes = 300

func writeContextLine(b *strings.Builder, prior *Context) {
	if prior == nil {
		b.WriteString("No previous briefing exists; treat this as the baseline read of the market.\n")
		return
	}
	fmt.Fprintf(b, "Previous briefing (sentiment %.2f): %s\nReport what has changed since then rather than restating it.\n",
		prior.Score, article.Truncate(prior.Summary, priorSummaryRunes))
}

// personaFor picks the analyst voice from the previous day's sentiment:
// deep pessimism gets a contrarian value hunter, strong optimism gets a
// risk manager, anything in between a neutral macro analyst.
func personaFor(prior *Context) string {
	switch {
	case prior != nil && prior.Score <= -0.5:
		return "You are a contrarian value investor. The market has been deeply pessimistic; look for oversold quality and signs of capitulation alongside the genuine risks."
	case prior != nil && prior.Score >= 0.5:
		return "You are a risk-control officer. The market has been strongly optimistic; scrutinize crowded trades, stretched valuations and complacency alongside the genuine momentum."
	default:
		return "You are a neutral macro analyst. Weigh positive and negative developments evenly and focus on what moves markets."
	}
}
