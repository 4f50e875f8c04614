package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	loggingpkg "github.com/drblury/bifrost/internal/runtime/logging"
)

// DefaultCacheTTL is how long a cached response is reused.
const DefaultCacheTTL = 24 * time.Hour

// ResponseCache stores responses by key. A miss is (nil, false, nil).
type ResponseCache interface {
	Get(ctx context.Context, key string) (*Response, bool, error)
	Set(ctx context.Context, key string, resp *Response, ttl time.Duration) error
}

// CacheRecorder counts cache lookups.
type CacheRecorder interface {
	RecordCacheLookup(hit bool)
}

// CachedOptions configures NewCachedAnalyzer. Model is the configured model
// name and is part of every key.
type CachedOptions struct {
	Cache    ResponseCache
	Model    string
	TTL      time.Duration
	Logger   loggingpkg.ServiceLogger
	Recorder CacheRecorder
}

// CachedAnalyzer reuses the response to an identical prompt sent to the same
// source and model. Cache failures are logged and fall through to the backend.
type CachedAnalyzer struct {
	next     Analyzer
	cache    ResponseCache
	model    string
	ttl      time.Duration
	logger   loggingpkg.ServiceLogger
	recorder CacheRecorder
}

func NewCachedAnalyzer(next Analyzer, opts CachedOptions) *CachedAnalyzer {
	c := &CachedAnalyzer{
		next:     next,
		cache:    opts.Cache,
		model:    opts.Model,
		ttl:      opts.TTL,
		logger:   opts.Logger,
		recorder: opts.Recorder,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultCacheTTL
	}
	if c.logger == nil {
		c.logger = loggingpkg.Discard()
	}
	c.logger = c.logger.With(loggingpkg.LogFields{"component": "analysis_cache"})
	return c
}

// CacheKey hashes the source, model and prompt.
func CacheKey(source, model, prompt string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + model + "\x00" + prompt))
	return "bifrost:analysis:" + hex.EncodeToString(sum[:])
}

func (c *CachedAnalyzer) Analyze(ctx context.Context, prompt string) (*Response, error) {
	key := CacheKey(c.next.Source(), c.model, prompt)

	cached, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.logger.Error("Cache lookup failed", err, nil)
	case ok:
		c.record(true)
		c.logger.Debug("Reusing cached analysis", loggingpkg.LogFields{"model": cached.Metadata.Model})
		return cached, nil
	}
	c.record(false)

	resp, err := c.next.Analyze(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, resp, c.ttl); err != nil {
		c.logger.Error("Cache store failed", err, nil)
	}
	return resp, nil
}

func (c *CachedAnalyzer) Source() string { return c.next.Source() }

func (c *CachedAnalyzer) record(hit bool) {
	if c.recorder != nil {
		c.recorder.RecordCacheLookup(hit)
	}
}
