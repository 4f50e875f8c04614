// Package pipeline wires the request consumer, the orchestrator and both
// producers into one start/stop unit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/drblury/bifrost/internal/ai"
	"github.com/drblury/bifrost/internal/analysis"
	"github.com/drblury/bifrost/internal/preprocess"
	"github.com/drblury/bifrost/internal/runtime"
	configpkg "github.com/drblury/bifrost/internal/runtime/config"
	errspkg "github.com/drblury/bifrost/internal/runtime/errors"
	loggingpkg "github.com/drblury/bifrost/internal/runtime/logging"
	"github.com/drblury/bifrost/internal/store"
	"github.com/drblury/bifrost/transport"
)

// Dependencies configure a Manager. Config and Logger are required; every
// other nil collaborator is built from Config on Start and released on Stop.
type Dependencies struct {
	Config     *configpkg.Config
	Logger     loggingpkg.ServiceLogger
	Driver     transport.Driver
	Analyzer   ai.Analyzer
	// Cache overrides the Redis response cache used when Config.CacheEnabled.
	Cache      ai.ResponseCache
	Store      store.Store
	Normalizer analysis.Normalizer
	Parser     analysis.ResultParser
	Metrics    *runtime.Metrics
	Hooks      runtime.JobHooks
}

// Manager owns one consume loop. Start and Stop are idempotent and Stop
// tolerates a partially started pipeline.
type Manager struct {
	deps   Dependencies
	logger loggingpkg.ServiceLogger

	mu       sync.Mutex
	running  bool
	dlq      *runtime.DLQProducer
	consumer *runtime.RequestConsumer
	results  *runtime.ResultProducer
	store    store.Store
	ownStore bool
	cache    io.Closer
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
}

// NewManager validates the configuration.
func NewManager(deps Dependencies) (*Manager, error) {
	if deps.Config == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if deps.Logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		deps:   deps,
		logger: deps.Logger.With(loggingpkg.LogFields{"component": "pipeline"}),
	}, nil
}

// Start brings the pipeline up in dependency order: DLQ producer, consumer,
// result producer, orchestrator, consume loop. The loop runs until Stop;
// ctx only bounds the start-up itself.
func (m *Manager) Start(ctx context.Context) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errspkg.ErrManagerRunning
	}
	defer func() {
		if err != nil {
			m.logger.Error("Pipeline start failed", err, nil)
			_ = m.teardownLocked()
		}
	}()

	cfg := m.deps.Config
	driver := m.deps.Driver
	if driver == nil {
		if driver, err = transport.Resolve(cfg); err != nil {
			return err
		}
	}
	if gaps := capabilityGaps(driver.Capabilities()); len(gaps) > 0 {
		m.logger.Info("Transport does not guarantee delivery properties, per-key ordering or dead-letter positions may be lost", loggingpkg.LogFields{
			"transport": driver.Name(),
			"missing":   gaps,
		})
	}

	m.store = m.deps.Store
	if m.store == nil {
		if m.store, err = store.Open(ctx, cfg); err != nil {
			return err
		}
		m.ownStore = true
	}

	analyzer := m.deps.Analyzer
	if analyzer == nil {
		if analyzer, err = ai.New(ctx, cfg, m.deps.Logger); err != nil {
			return err
		}
	}
	if cfg.CacheEnabled {
		if analyzer, err = m.withCache(ctx, analyzer); err != nil {
			return err
		}
	}

	normalizer := m.deps.Normalizer
	if normalizer == nil {
		normalizer = preprocess.New(preprocess.Options{
			MaxSizeMB:        cfg.LogMaxSizeMB,
			Truncate:         cfg.LogTruncate,
			RemoveTimestamps: cfg.LogRemoveTimestamps,
		})
	}

	if m.dlq, err = runtime.NewDLQProducer(m.producerOptions(driver, cfg.DLQTopic)); err != nil {
		return err
	}
	if err = m.dlq.Start(ctx); err != nil {
		return err
	}

	if m.consumer, err = runtime.NewRequestConsumer(runtime.ConsumerOptions{
		Topics:          cfg.RequestTopics,
		Driver:          driver,
		TransportConfig: cfg,
		Logger:          m.deps.Logger,
		DeadLetter:      m.dlq,
		Metrics:         m.deps.Metrics,
		Hooks:           runtime.LoggingHooks(m.deps.Logger).Merge(m.deps.Hooks),
	}); err != nil {
		return err
	}
	if err = m.consumer.Start(ctx); err != nil {
		return err
	}

	if m.results, err = runtime.NewResultProducer(m.producerOptions(driver, cfg.ResultTopic)); err != nil {
		return err
	}
	if err = m.results.Start(ctx); err != nil {
		return err
	}

	orch, err := analysis.NewOrchestrator(analysis.Dependencies{
		Analyzer:   analyzer,
		Store:      m.store,
		Normalizer: normalizer,
		Parser:     m.deps.Parser,
		Sender:     m.results,
		Logger:     m.deps.Logger,
		Metrics:    m.deps.Metrics,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.err = nil
	m.running = true

	go m.run(runCtx, m.consumer, orch, done)

	m.logger.Info("Pipeline started", loggingpkg.LogFields{
		"transport":      driver.Name(),
		"request_topics": cfg.RequestTopics,
		"result_topic":   cfg.ResultTopic,
		"dlq_topic":      cfg.DLQTopic,
		"ai_source":      analyzer.Source(),
		"config":         cfg.String(),
	})
	return nil
}

func (m *Manager) withCache(ctx context.Context, analyzer ai.Analyzer) (ai.Analyzer, error) {
	cache := m.deps.Cache
	if cache == nil {
		rc, err := ai.NewRedisCache(ctx, m.deps.Config.RedisURL)
		if err != nil {
			return nil, err
		}
		m.cache = rc
		cache = rc
	}
	var recorder ai.CacheRecorder
	if m.deps.Metrics != nil {
		recorder = m.deps.Metrics
	}
	return ai.NewCachedAnalyzer(analyzer, ai.CachedOptions{
		Cache:    cache,
		Model:    ai.ConfiguredModel(m.deps.Config),
		TTL:      m.deps.Config.CacheTTL,
		Logger:   m.deps.Logger,
		Recorder: recorder,
	}), nil
}

// capabilityGaps names the delivery properties the pipeline relies on that
// caps does not provide.
func capabilityGaps(caps transport.Capabilities) []string {
	var gaps []string
	if !caps.SupportsOrdering {
		gaps = append(gaps, "ordering")
	}
	if !caps.SupportsOffsets {
		gaps = append(gaps, "offsets")
	}
	if !caps.SupportsReliableDelivery() {
		gaps = append(gaps, "ack")
	}
	return gaps
}

func (m *Manager) producerOptions(driver transport.Driver, topic string) runtime.ProducerOptions {
	return runtime.ProducerOptions{
		Topic:           topic,
		Driver:          driver,
		TransportConfig: m.deps.Config,
		Logger:          m.deps.Logger,
		Metrics:         m.deps.Metrics,
	}
}

func (m *Manager) run(ctx context.Context, consumer *runtime.RequestConsumer, p runtime.Processor, done chan struct{}) {
	defer close(done)
	if err := consumer.Consume(ctx, p); err != nil {
		m.logger.Error("Consume loop stopped with a fatal error", err, nil)
		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
	}
}

// Stop halts polling, cancels the in-flight record, waits for the loop (at
// most until ctx is done) and closes every component.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	consumer, cancel, done := m.consumer, m.cancel, m.done
	m.mu.Unlock()

	if consumer != nil {
		consumer.StopPolling()
	}
	if cancel != nil {
		cancel()
	}

	var waitErr error
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			waitErr = fmt.Errorf("wait for consume loop: %w", ctx.Err())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	wasRunning := m.running
	err := errors.Join(waitErr, m.teardownLocked())
	if wasRunning {
		m.logger.Info("Pipeline stopped", nil)
	}
	return err
}

// teardownLocked closes whatever Start managed to create.
func (m *Manager) teardownLocked() error {
	var errs []error
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.consumer != nil {
		errs = append(errs, m.consumer.Close())
		m.consumer = nil
	}
	if m.results != nil {
		errs = append(errs, m.results.Close())
		m.results = nil
	}
	if m.dlq != nil {
		errs = append(errs, m.dlq.Close())
		m.dlq = nil
	}
	if m.store != nil && m.ownStore {
		errs = append(errs, m.store.Close())
	}
	if m.cache != nil {
		errs = append(errs, m.cache.Close())
		m.cache = nil
	}
	m.store = nil
	m.ownStore = false
	m.running = false
	return errors.Join(errs...)
}

// Done is closed when the consume loop exits. It is nil before Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Err reports the fatal error that ended the consume loop, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}
