package ai

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/bifrost/internal/runtime/config"
)

type countingAnalyzer struct {
	calls int
	err   error
}

func (a *countingAnalyzer) Analyze(_ context.Context, prompt string) (*Response, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return &Response{Text: "analysed: " + prompt, Metadata: Metadata{Model: "mistral", Duration: time.Second}}, nil
}

func (a *countingAnalyzer) Source() string { return "local" }

type mapCache struct {
	mu      sync.Mutex
	entries map[string]*Response
	ttls    map[string]time.Duration
	getErr  error
	setErr  error
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string]*Response{}, ttls: map[string]time.Duration{}}
}

func (c *mapCache) Get(_ context.Context, key string) (*Response, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	resp, ok := c.entries[key]
	return resp, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, resp *Response, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[key] = resp
	c.ttls[key] = ttl
	return nil
}

type hitCounter struct{ hits, misses int }

func (h *hitCounter) RecordCacheLookup(hit bool) {
	if hit {
		h.hits++
	} else {
		h.misses++
	}
}

func TestCachedAnalyzerReusesIdenticalPrompt(t *testing.T) {
	next := &countingAnalyzer{}
	cache := newMapCache()
	counter := &hitCounter{}
	a := NewCachedAnalyzer(next, CachedOptions{Cache: cache, Recorder: counter})

	first, err := a.Analyze(context.Background(), "ERROR disk full")
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), "ERROR disk full")
	require.NoError(t, err)
	_, err = a.Analyze(context.Background(), "WARN slow")
	require.NoError(t, err)

	assert.Equal(t, 2, next.calls)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, 1, counter.hits)
	assert.Equal(t, 2, counter.misses)
	assert.Equal(t, DefaultCacheTTL, cache.ttls[CacheKey("local", "", "ERROR disk full")])
	assert.Equal(t, "local", a.Source())
}

func TestCachedAnalyzerDoesNotCacheFailures(t *testing.T) {
	next := &countingAnalyzer{err: errors.New("model offline")}
	cache := newMapCache()
	a := NewCachedAnalyzer(next, CachedOptions{Cache: cache})

	_, err := a.Analyze(context.Background(), "p")
	require.Error(t, err)
	assert.Empty(t, cache.entries)
}

func TestCachedAnalyzerFallsThroughOnCacheErrors(t *testing.T) {
	next := &countingAnalyzer{}
	cache := newMapCache()
	cache.getErr = errors.New("connection refused")
	cache.setErr = errors.New("connection refused")
	a := NewCachedAnalyzer(next, CachedOptions{Cache: cache, TTL: time.Minute})

	resp, err := a.Analyze(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "analysed: p", resp.Text)
	assert.Equal(t, 1, next.calls)
}

func TestCacheKeySeparatesSourcesAndModels(t *testing.T) {
	assert.NotEqual(t, CacheKey("local", "mistral", "p"), CacheKey("cloud", "mistral", "p"))
	assert.NotEqual(t, CacheKey("local", "mistral", "p"), CacheKey("local", "llama3", "p"))
	assert.Equal(t, CacheKey("local", "mistral", "p"), CacheKey("local", "mistral", "p"))
}

func TestCachedAnalyzerMissesAfterModelChange(t *testing.T) {
	next := &countingAnalyzer{}
	cache := newMapCache()

	_, err := NewCachedAnalyzer(next, CachedOptions{Cache: cache, Model: "mistral"}).Analyze(context.Background(), "ERROR disk full")
	require.NoError(t, err)
	_, err = NewCachedAnalyzer(next, CachedOptions{Cache: cache, Model: "llama3"}).Analyze(context.Background(), "ERROR disk full")
	require.NoError(t, err)

	assert.Equal(t, 2, next.calls)
	assert.Len(t, cache.entries, 2)
}

func TestConfiguredModel(t *testing.T) {
	cfg := configpkg.Default()
	assert.Equal(t, cfg.OllamaModel, ConfiguredModel(cfg))
	cfg.AISource = configpkg.AISourceCloud
	assert.Equal(t, cfg.BedrockModel, ConfiguredModel(cfg))
}

func TestRedisCacheRoundTrip(t *testing.T) {
	url := os.Getenv("BIFROST_TEST_REDIS_URL")
	if url == "" {
		t.Skip("BIFROST_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	rc, err := NewRedisCache(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	key := CacheKey("local", "mistral", t.Name())
	_, ok, err := rc.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	want := &Response{Text: "cached", Metadata: Metadata{Model: "mistral", Usage: &Usage{TotalTokens: 12}}}
	require.NoError(t, rc.Set(ctx, key, want, time.Minute))
	t.Cleanup(func() { _ = rc.rdb.Del(ctx, key).Err() })

	got, ok, err := rc.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	_, err := NewRedisCache(context.Background(), "http://not-redis")
	require.Error(t, err)

	rc := NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
	_, _, err = rc.Get(context.Background(), "k")
	require.Error(t, err)
	require.NoError(t, rc.Close())
}
