package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/drblury/bifrost/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/bifrost/internal/runtime/logging"
)

const (
	defaultOllamaURL     = "http://localhost:11434"
	defaultOllamaModel   = "mistral"
	defaultOllamaTimeout = 120 * time.Second
	healthCheckTimeout   = 5 * time.Second
)

// OllamaOptions configures an Ollama client.
type OllamaOptions struct {
	URL        string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	Logger     loggingpkg.ServiceLogger
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
	// RetryInterval is the first backoff wait. Default 1s, doubling.
	RetryInterval time.Duration
}

// Ollama calls the /api/generate endpoint of an Ollama server.
type Ollama struct {
	url        string
	model      string
	timeout    time.Duration
	maxRetries int
	retryWait  time.Duration
	client     *http.Client
	logger     loggingpkg.ServiceLogger
}

// NewOllama applies defaults for every zero option.
func NewOllama(opts OllamaOptions) *Ollama {
	o := &Ollama{
		url:        strings.TrimRight(opts.URL, "/"),
		model:      opts.Model,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		retryWait:  opts.RetryInterval,
		client:     opts.HTTPClient,
		logger:     opts.Logger,
	}
	if o.url == "" {
		o.url = defaultOllamaURL
	}
	if o.model == "" {
		o.model = defaultOllamaModel
	}
	if o.timeout <= 0 {
		o.timeout = defaultOllamaTimeout
	}
	if o.maxRetries <= 0 {
		o.maxRetries = 1
	}
	if o.retryWait <= 0 {
		o.retryWait = time.Second
	}
	if o.client == nil {
		o.client = &http.Client{
			Timeout:   o.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if o.logger == nil {
		o.logger = loggingpkg.Discard()
	}
	o.logger = o.logger.With(loggingpkg.LogFields{"component": "ollama", "model": o.model})
	return o
}

// Source implements Analyzer.
func (o *Ollama) Source() string { return "local" }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Analyze sends a non-streaming generate request. Connection failures and
// timeouts are retried with exponential backoff; HTTP errors are not.
func (o *Ollama) Analyze(ctx context.Context, prompt string) (*Response, error) {
	body, err := jsoncodec.Marshal(generateRequest{Model: o.model, Prompt: prompt, Stream: false})
	if err != nil {
		return nil, fmt.Errorf("ollama: encode request: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.retryWait
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	start := time.Now()
	attempt := 0
	result, err := backoff.Retry(ctx, func() (*generateResponse, error) {
		attempt++
		return o.generate(ctx, body)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(o.maxRetries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			o.logger.Info("Ollama request failed, retrying", loggingpkg.LogFields{
				"attempt":  attempt,
				"of":       o.maxRetries,
				"wait_ms":  wait.Milliseconds(),
				"error":    err.Error(),
				"endpoint": o.url,
			})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("ollama: %s unreachable after %d attempt(s): %w", o.url, attempt, err)
	}

	resp := &Response{
		Text: result.Response,
		Metadata: Metadata{
			Model:    o.model,
			Duration: time.Since(start),
		},
	}
	if result.PromptEvalCount > 0 || result.EvalCount > 0 {
		resp.Metadata.Usage = &Usage{
			InputTokens:  result.PromptEvalCount,
			OutputTokens: result.EvalCount,
			TotalTokens:  result.PromptEvalCount + result.EvalCount,
		}
	}
	return resp, nil
}

func (o *Ollama) generate(ctx context.Context, body []byte) (*generateResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := o.client.Do(req)
	if err != nil {
		// client errors are connection failures or timeouts
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(raw))))
	}

	var out generateResponse
	if err := jsoncodec.Unmarshal(raw, &out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return &out, nil
}

// HealthCheck reports whether the server answers /api/tags.
func (o *Ollama) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url+"/api/tags", nil)
	if err != nil {
		return false
	}
	res, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	return res.StatusCode == http.StatusOK
}
