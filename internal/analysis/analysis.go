// Package analysis asks a chat model to extract scope categories from
// document text and normalizes its answer into an extraction payload.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"scopekeeper/api/internal/metrics"
)

const (
	defaultModel      = "gpt-4o-mini"
	defaultAPIVersion = "2024-02-15-preview"
	defaultMaxTokens  = 4000
	defaultRateLimit  = 50 // requests per minute
	defaultBurst      = 5
	maxInputRunes     = 120000
)

// ErrInvalidResponse means the model answered with something that is not a
// JSON object.
var ErrInvalidResponse = errors.New("analysis response is not a JSON object")

// Analyzer extracts a category-keyed payload from document text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (map[string]any, error)
}

type Config struct {
	// Provider is "openai" or "azure".
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	APIVersion  string
	MaxTokens   int
	Temperature float64
	TopP        float64
	// RateLimit is requests per minute.
	RateLimit int
}

type LLM struct {
	model   llms.Model
	limiter *rate.Limiter
	cfg     Config
	logger  *zap.Logger
}

// New builds an analyzer backed by an OpenAI-compatible chat endpoint.
func New(cfg Config, logger *zap.Logger) (*LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("analysis API key required")
	}
	cfg = withDefaults(cfg)

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if strings.EqualFold(cfg.Provider, "azure") {
		opts = append(opts,
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithAPIVersion(cfg.APIVersion),
		)
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create analysis client: %w", err)
	}
	return newLLM(model, cfg, logger), nil
}

func newLLM(model llms.Model, cfg Config, logger *zap.Logger) *LLM {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = withDefaults(cfg)
	return &LLM{
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimit)/60.0), defaultBurst),
		cfg:     cfg,
		logger:  logger,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.TopP <= 0 {
		cfg.TopP = 0.9
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	return cfg
}

// Analyze sends the document text with the extraction prompt and returns the
// normalized payload.
func (l *LLM) Analyze(ctx context.Context, text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("analyze: empty document text")
	}
	if runes := []rune(text); len(runes) > maxInputRunes {
		text = string(runes[:maxInputRunes])
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	start := time.Now()
	resp, err := l.model.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, extractionPrompt),
			llms.TextParts(llms.ChatMessageTypeHuman, text),
		},
		llms.WithMaxTokens(l.cfg.MaxTokens),
		llms.WithTemperature(l.cfg.Temperature),
		llms.WithTopP(l.cfg.TopP),
	)
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AnalysisRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("generate analysis: %w", err)
	}
	if len(resp.Choices) == 0 {
		metrics.AnalysisRequests.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: no choices returned", ErrInvalidResponse)
	}

	payload, err := ParseResponse(resp.Choices[0].Content)
	if err != nil {
		metrics.AnalysisRequests.WithLabelValues("invalid").Inc()
		return nil, err
	}
	metrics.AnalysisRequests.WithLabelValues("ok").Inc()
	l.logger.Info("analysis completed",
		zap.Int("input_runes", len([]rune(text))),
		zap.Int("categories", len(payload)),
		zap.Duration("duration", time.Since(start)),
	)
	return payload, nil
}
