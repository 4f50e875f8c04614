// Package store persists the raw prompt/response pair of every analysis.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	configpkg "github.com/drblury/bifrost/internal/runtime/config"
)

// Record defaults.
const (
	StatusCompleted       = "completed"
	DefaultPromptTemplate = "master"
	DefaultPromptVersion  = "1.0"
)

// ErrNotFound is returned by GetAnalysis for unknown ids.
var ErrNotFound = errors.New("store: analysis not found")

// Analysis is what callers hand to SaveAnalysis.
type Analysis struct {
	Source       string
	Model        string
	LogContent   string
	Response     string
	Duration     time.Duration
	Config       map[string]any
	Tags         []string
	ServiceName  string
	Environment  string
	TokensUsed   *int
	Status       string
	ErrorMessage string
}

// Record is a persisted analysis with its derived columns.
type Record struct {
	ID                int64
	CreatedAt         time.Time
	Source            string
	Model             string
	LogHash           string
	LogSizeBytes      int
	LogLines          int
	LogContent        string
	Response          string
	ResponseSizeBytes int
	DurationSeconds   float64
	PromptTemplate    string
	PromptVersion     string
	Config            map[string]any
	Tags              []string
	ServiceName       string
	Environment       string
	TokensUsed        *int
	Status            string
	ErrorMessage      string
}

// Store saves and loads analyses.
type Store interface {
	SaveAnalysis(ctx context.Context, a Analysis) (int64, error)
	GetAnalysis(ctx context.Context, id int64) (*Record, error)
	Close() error
}

// Open builds the store selected by cfg.StoreDriver and prepares its schema.
func Open(ctx context.Context, cfg *configpkg.Config) (Store, error) {
	if cfg == nil {
		return nil, errors.New("store: config is required")
	}
	switch cfg.StoreDriver {
	case configpkg.StoreSQLite:
		return OpenSQLite(ctx, cfg.SQLiteFile)
	case configpkg.StorePostgres:
		return OpenPostgres(ctx, cfg.PostgresURL)
	case configpkg.StoreMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.StoreDriver)
	}
}

// newRecord derives the hash, size and line columns.
func newRecord(a Analysis, now time.Time) Record {
	sum := sha256.Sum256([]byte(a.LogContent))
	r := Record{
		CreatedAt:         now.UTC(),
		Source:            a.Source,
		Model:             a.Model,
		LogHash:           hex.EncodeToString(sum[:]),
		LogSizeBytes:      len(a.LogContent),
		LogLines:          strings.Count(a.LogContent, "\n") + 1,
		LogContent:        a.LogContent,
		Response:          a.Response,
		ResponseSizeBytes: len(a.Response),
		DurationSeconds:   a.Duration.Seconds(),
		PromptTemplate:    DefaultPromptTemplate,
		PromptVersion:     DefaultPromptVersion,
		Config:            a.Config,
		Tags:              append([]string(nil), a.Tags...),
		ServiceName:       a.ServiceName,
		Environment:       a.Environment,
		TokensUsed:        a.TokensUsed,
		Status:            a.Status,
		ErrorMessage:      a.ErrorMessage,
	}
	if r.Status == "" {
		r.Status = StatusCompleted
	}
	if r.Config == nil {
		r.Config = map[string]any{}
	}
	return r
}
