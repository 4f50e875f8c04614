package ai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/bifrost/internal/runtime/jsoncodec"
)

func TestOllamaAnalyze(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, jsoncodec.Unmarshal(raw, &got))
		_, _ = w.Write([]byte(`{"model":"mistral","response":"## Summary\nall good","done":true,"prompt_eval_count":12,"eval_count":30}`))
	}))
	defer srv.Close()

	o := NewOllama(OllamaOptions{URL: srv.URL + "/", Model: "mistral"})
	resp, err := o.Analyze(context.Background(), "analyse this")
	require.NoError(t, err)

	assert.Equal(t, generateRequest{Model: "mistral", Prompt: "analyse this", Stream: false}, got)
	assert.Equal(t, "## Summary\nall good", resp.Text)
	assert.Equal(t, "mistral", resp.Metadata.Model)
	require.NotNil(t, resp.Metadata.Usage)
	assert.Equal(t, 42, resp.Metadata.Usage.TotalTokens)
	assert.Equal(t, "local", o.Source())
}

func TestOllamaDoesNotRetryHTTPErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewOllama(OllamaOptions{URL: srv.URL, MaxRetries: 3, RetryInterval: time.Millisecond})
	_, err := o.Analyze(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllamaRetriesConnectionErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	o := NewOllama(OllamaOptions{URL: url, MaxRetries: 3, RetryInterval: time.Millisecond})
	_, err := o.Analyze(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempt(s)")
}

func TestOllamaRecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// drop the connection without a response
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			_ = conn.Close()
			return
		}
		_, _ = w.Write([]byte(`{"response":"ok","done":true}`))
	}))
	defer srv.Close()

	o := NewOllama(OllamaOptions{URL: srv.URL, MaxRetries: 3, RetryInterval: time.Millisecond})
	resp, err := o.Analyze(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Nil(t, resp.Metadata.Usage)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOllamaHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	assert.True(t, NewOllama(OllamaOptions{URL: srv.URL}).HealthCheck(context.Background()))
	assert.False(t, NewOllama(OllamaOptions{URL: "http://127.0.0.1:1"}).HealthCheck(context.Background()))
}

func TestNewOllamaDefaults(t *testing.T) {
	o := NewOllama(OllamaOptions{})
	assert.Equal(t, "http://localhost:11434", o.url)
	assert.Equal(t, "mistral", o.model)
	assert.Equal(t, 120*time.Second, o.client.Timeout)
	assert.Equal(t, 1, o.maxRetries)
}
