// Package ai talks to the language model backends that analyse log bodies.
// "local" is a self-hosted Ollama server, "cloud" is AWS Bedrock.
package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/drblury/bifrost/internal/events"
	configpkg "github.com/drblury/bifrost/internal/runtime/config"
	loggingpkg "github.com/drblury/bifrost/internal/runtime/logging"
)

// Usage reports token accounting when the backend returns it.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Metadata describes how a response was produced.
type Metadata struct {
	Model    string
	Duration time.Duration
	// Region is set by cloud backends.
	Region string
	Usage  *Usage
}

// Response is the raw answer to one prompt.
type Response struct {
	Text     string
	Metadata Metadata
	// Structured is set by backends that return the analysis already
	// structured; parsers pass it through instead of scanning Text.
	Structured *events.AnalysisResultData
}

// Analyzer runs one prompt against a model. Timeouts and retries are owned
// by the implementation.
type Analyzer interface {
	Analyze(ctx context.Context, prompt string) (*Response, error)
	// Source is the configured source name, "local" or "cloud".
	Source() string
}

// ConfiguredModel returns the model name of the source cfg selects.
func ConfiguredModel(cfg *configpkg.Config) string {
	if cfg.AISource == configpkg.AISourceCloud {
		return cfg.BedrockModel
	}
	return cfg.OllamaModel
}

// New builds the analyzer selected by cfg.AISource.
func New(ctx context.Context, cfg *configpkg.Config, logger loggingpkg.ServiceLogger) (Analyzer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ai: config is required")
	}
	if logger == nil {
		logger = loggingpkg.Discard()
	}

	switch cfg.AISource {
	case configpkg.AISourceLocal:
		return NewOllama(OllamaOptions{
			URL:        cfg.OllamaURL,
			Model:      cfg.OllamaModel,
			Timeout:    cfg.OllamaTimeout,
			MaxRetries: cfg.OllamaMaxRetries,
			Logger:     logger,
		}), nil
	case configpkg.AISourceCloud:
		return NewBedrock(ctx, BedrockOptions{
			Region:  cfg.BedrockRegion,
			Model:   cfg.BedrockModel,
			Profile: cfg.BedrockProfile,
			Logger:  logger,
		})
	default:
		return nil, fmt.Errorf("ai: unsupported source %q", cfg.AISource)
	}
}
