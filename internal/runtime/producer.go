package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/bifrost/internal/events"
	errspkg "github.com/drblury/bifrost/internal/runtime/errors"
	idspkg "github.com/drblury/bifrost/internal/runtime/ids"
	"github.com/drblury/bifrost/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/bifrost/internal/runtime/logging"
	metadatapkg "github.com/drblury/bifrost/internal/runtime/metadata"
	"github.com/drblury/bifrost/transport"
)

// ProducerOptions configures a ResultProducer or DLQProducer.
type ProducerOptions struct {
	Topic           string
	Driver          transport.Driver
	TransportConfig transport.Config
	Logger          loggingpkg.ServiceLogger
	Metrics         *Metrics
}

// publisherHandle owns one Watermill publisher between Start and Close.
type publisherHandle struct {
	opts   ProducerOptions
	pubOpt transport.PublisherOptions
	logger loggingpkg.ServiceLogger

	mu        sync.RWMutex
	publisher message.Publisher
	closed    bool
}

func newPublisherHandle(opts ProducerOptions, pubOpt transport.PublisherOptions) (*publisherHandle, error) {
	if opts.Driver == nil || opts.TransportConfig == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if opts.Logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if opts.Topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	return &publisherHandle{
		opts:   opts,
		pubOpt: pubOpt,
		logger: opts.Logger.With(loggingpkg.LogFields{"component": pubOpt.Name + "_producer", "topic": opts.Topic}),
	}, nil
}

func (h *publisherHandle) start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errspkg.ErrProducerNotStarted
	}
	if h.publisher != nil {
		return nil
	}

	pub, err := h.opts.Driver.NewPublisher(ctx, h.opts.TransportConfig, h.pubOpt, loggingpkg.NewWatermillAdapter(h.logger))
	if err != nil {
		return fmt.Errorf("create %s publisher: %w", h.pubOpt.Name, err)
	}
	h.publisher = pub
	h.logger.Info("Producer started", loggingpkg.LogFields{"transport": h.opts.Driver.Name()})
	return nil
}

func (h *publisherHandle) publish(ctx context.Context, payload []byte, md metadatapkg.Metadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.publisher == nil || h.closed {
		return errspkg.ErrProducerNotStarted
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = md.ToWatermill()
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return h.publisher.Publish(h.opts.Topic, msg)
}

func (h *publisherHandle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	if h.publisher == nil {
		return nil
	}
	err := h.publisher.Close()
	h.publisher = nil
	if err != nil {
		return fmt.Errorf("close %s publisher: %w", h.pubOpt.Name, err)
	}
	h.logger.Info("Producer closed", nil)
	return nil
}

// ResultProducer publishes analysis results keyed by log id.
type ResultProducer struct {
	handle  *publisherHandle
	metrics *Metrics
}

// NewResultProducer validates the options. Call Start before sending.
func NewResultProducer(opts ProducerOptions) (*ResultProducer, error) {
	h, err := newPublisherHandle(opts, transport.PublisherOptions{Name: "result", Keyed: true})
	if err != nil {
		return nil, err
	}
	return &ResultProducer{handle: h, metrics: opts.Metrics}, nil
}

// Start builds the keyed publisher.
func (p *ResultProducer) Start(ctx context.Context) error {
	return p.handle.start(ctx)
}

// SendAnalysisResult publishes evt and reports whether the bus accepted it.
// Failures are logged and counted, never retried.
func (p *ResultProducer) SendAnalysisResult(ctx context.Context, evt *events.AnalysisResultEvent) bool {
	if evt == nil {
		p.handle.logger.Error("Result not published", errspkg.ErrEventPayloadRequired, nil)
		p.metrics.RecordResultPublished(false)
		return false
	}

	fields := loggingpkg.LogFields{
		"request_id":     evt.RequestID,
		"correlation_id": evt.CorrelationID,
		"log_id":         evt.LogID,
	}

	payload, err := jsoncodec.Marshal(evt)
	if err != nil {
		p.handle.logger.Error("Result not published", fmt.Errorf("marshal result: %w", err), fields)
		p.metrics.RecordResultPublished(false)
		return false
	}

	md := metadatapkg.New(
		metadatapkg.KeyEventSchema, events.SchemaAnalysisResult,
		metadatapkg.KeyPartitionKey, evt.PartitionKey(),
		metadatapkg.KeyLogID, evt.PartitionKey(),
	).
		With(metadatapkg.KeyCorrelationID, evt.CorrelationID).
		With(metadatapkg.KeyRequestID, evt.RequestID)

	if err := p.handle.publish(ctx, payload, md); err != nil {
		p.handle.logger.Error("Result not published", err, fields)
		p.metrics.RecordResultPublished(false)
		return false
	}

	p.metrics.RecordResultPublished(true)
	p.handle.logger.Debug("Result published", fields)
	return true
}

// Close releases the publisher. Safe to call more than once.
func (p *ResultProducer) Close() error {
	return p.handle.close()
}

// DLQProducer publishes dead-letter envelopes.
type DLQProducer struct {
	handle *publisherHandle
}

// NewDLQProducer validates the options. Call Start before sending.
func NewDLQProducer(opts ProducerOptions) (*DLQProducer, error) {
	h, err := newPublisherHandle(opts, transport.PublisherOptions{Name: "dlq"})
	if err != nil {
		return nil, err
	}
	return &DLQProducer{handle: h}, nil
}

// Start builds the publisher.
func (p *DLQProducer) Start(ctx context.Context) error {
	return p.handle.start(ctx)
}

// SendToDLQ publishes msg. Headers attached with WithHeaders are copied onto
// the outgoing message.
func (p *DLQProducer) SendToDLQ(ctx context.Context, msg *events.DLQMessage) error {
	if msg == nil {
		return errspkg.ErrEventPayloadRequired
	}

	payload, err := jsoncodec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal dlq message: %w", err)
	}

	md := metadatapkg.New(metadatapkg.KeyEventSchema, events.SchemaDLQMessage)
	if ctx != nil {
		for k, v := range headersFromContext(ctx) {
			md = md.With(k, v)
		}
	}

	if err := p.handle.publish(ctx, payload, md); err != nil {
		return fmt.Errorf("publish dlq message: %w", err)
	}
	return nil
}

// Close releases the publisher. Safe to call more than once.
func (p *DLQProducer) Close() error {
	return p.handle.close()
}
