package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/bifrost/internal/events"
	errspkg "github.com/drblury/bifrost/internal/runtime/errors"
	loggingpkg "github.com/drblury/bifrost/internal/runtime/logging"
	metadatapkg "github.com/drblury/bifrost/internal/runtime/metadata"
	"github.com/drblury/bifrost/transport"
)

// DeadLetterSender forwards records that could not be processed.
type DeadLetterSender interface {
	SendToDLQ(ctx context.Context, msg *events.DLQMessage) error
}

// ConsumerOptions configures a RequestConsumer.
type ConsumerOptions struct {
	Topics          []string
	Driver          transport.Driver
	TransportConfig transport.Config
	Logger          loggingpkg.ServiceLogger
	DeadLetter      DeadLetterSender
	Metrics         *Metrics
	// Hooks run around every record, after the built-in metrics hooks.
	Hooks JobHooks
	// Middlewares wrap the handler inside the default chain.
	Middlewares []message.HandlerMiddleware
}

type record struct {
	topic string
	msg   *message.Message
}

// RequestConsumer pulls analysis requests from the bus one at a time. A record
// is acked only after its side effects completed: processed, or forwarded to
// the dead-letter topic. Cancellation of the consume context nacks the record
// in flight so it is redelivered.
type RequestConsumer struct {
	topics     []string
	driver     transport.Driver
	tcfg       transport.Config
	logger     loggingpkg.ServiceLogger
	deadLetter DeadLetterSender
	metrics    *Metrics
	hooks      JobHooks
	extra      []message.HandlerMiddleware
	now        func() time.Time

	mu         sync.Mutex
	subscriber message.Subscriber
	cancelSubs context.CancelFunc
	records    chan record
	failures   chan error
	fanIn      sync.WaitGroup
	closed     bool

	stopping atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRequestConsumer validates the options. Call Start before Consume.
func NewRequestConsumer(opts ConsumerOptions) (*RequestConsumer, error) {
	if opts.Driver == nil || opts.TransportConfig == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if opts.Logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if len(opts.Topics) == 0 {
		return nil, errspkg.ErrTopicRequired
	}
	for _, topic := range opts.Topics {
		if topic == "" {
			return nil, errspkg.ErrTopicRequired
		}
	}

	return &RequestConsumer{
		topics:     append([]string(nil), opts.Topics...),
		driver:     opts.Driver,
		tcfg:       opts.TransportConfig,
		logger:     opts.Logger.With(loggingpkg.LogFields{"component": "request_consumer"}),
		deadLetter: opts.DeadLetter,
		metrics:    opts.Metrics,
		hooks:      MetricsHooks(opts.Metrics).Merge(opts.Hooks),
		extra:      opts.Middlewares,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}, nil
}

// Start builds the subscriber and subscribes to every topic. Subscriptions
// live until Close, independent of ctx.
func (c *RequestConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errspkg.ErrConsumerStopped
	}
	if c.subscriber != nil {
		return nil
	}

	sub, err := c.driver.NewSubscriber(ctx, c.tcfg, loggingpkg.NewWatermillAdapter(c.logger))
	if err != nil {
		return fmt.Errorf("create subscriber: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	records := make(chan record)
	failures := make(chan error, len(c.topics))

	channels := make([]<-chan *message.Message, 0, len(c.topics))
	for _, topic := range c.topics {
		ch, err := sub.Subscribe(subCtx, topic)
		if err != nil {
			cancel()
			_ = sub.Close()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		channels = append(channels, ch)
	}

	for i, ch := range channels {
		c.fanIn.Add(1)
		go c.forward(subCtx, c.topics[i], ch, records, failures)
	}

	c.subscriber = sub
	c.cancelSubs = cancel
	c.records = records
	c.failures = failures

	c.logger.Info("Request consumer started", loggingpkg.LogFields{
		"topics":    c.topics,
		"transport": c.driver.Name(),
	})
	return nil
}

// forward moves records from one subscription into the single consume loop.
// Records still held when the subscription is torn down are nacked.
func (c *RequestConsumer) forward(ctx context.Context, topic string, in <-chan *message.Message, out chan<- record, failures chan<- error) {
	defer c.fanIn.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				if !c.stopping.Load() && ctx.Err() == nil {
					failures <- fmt.Errorf("topic %s: %w", topic, errspkg.ErrSubscriptionClosed)
				}
				return
			}
			select {
			case out <- record{topic: topic, msg: msg}:
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}
}

// Consume runs the processing loop until ctx is cancelled, StopPolling is
// called, or the subscription fails. Only the latter returns an error.
func (c *RequestConsumer) Consume(ctx context.Context, p Processor) error {
	if p == nil {
		return errspkg.ErrProcessorRequired
	}

	c.mu.Lock()
	records, failures := c.records, c.failures
	c.mu.Unlock()
	if records == nil {
		return errspkg.ErrConsumerNotStarted
	}

	handler := c.handler(p)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stopCh:
			return nil
		case err := <-failures:
			c.logger.Error("Subscription failed", err, nil)
			return err
		case rec := <-records:
			c.handle(ctx, handler, rec)
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

func (c *RequestConsumer) handler(p Processor) message.HandlerFunc {
	base := func(msg *message.Message) ([]*message.Message, error) {
		evt, err := events.DecodeRequest(msg.Payload)
		if err != nil {
			return nil, err
		}
		// the body is authoritative for ids; headers follow it
		msg.Metadata.Set(metadatapkg.KeyCorrelationID, evt.CorrelationID)
		msg.Metadata.Set(metadatapkg.KeyRequestID, evt.RequestID)
		return nil, p.Process(msg.Context(), evt).Err()
	}

	mws := DefaultMiddlewares(c.logger, c.hooks)
	// extra middlewares sit just outside the recoverer
	mws = append(mws[:len(mws)-1:len(mws)-1], append(c.extra, RecovererMiddleware())...)
	return Chain(base, mws...)
}

func (c *RequestConsumer) handle(ctx context.Context, handler message.HandlerFunc, rec record) {
	msg := rec.msg
	pos := c.driver.Position(msg)
	position := RecordPosition{Topic: rec.topic, Partition: pos.Partition, Offset: pos.Offset}
	msg.SetContext(WithRecordPosition(ctx, position))

	fields := loggingpkg.LogFields{
		"topic":        position.Topic,
		"partition":    position.Partition,
		"offset":       position.Offset,
		"message_uuid": msg.UUID,
	}

	_, err := handler(msg)

	if ctx.Err() != nil {
		msg.Nack()
		c.logger.Info("Pipeline cancelled, record left uncommitted for redelivery", fields)
		return
	}

	if err != nil {
		reason := ReasonProcessing
		var unprocessable *events.UnprocessableEventError
		if errors.As(err, &unprocessable) {
			reason = ReasonDeserialization
		}
		c.forwardToDLQ(ctx, position, msg, err, reason, fields)
	}

	msg.Ack()
}

func (c *RequestConsumer) forwardToDLQ(ctx context.Context, pos RecordPosition, msg *message.Message, cause error, reason string, fields loggingpkg.LogFields) {
	fields["reason"] = reason
	c.metrics.RecordDLQ(reason)

	if c.deadLetter == nil {
		c.metrics.RecordDLQSendFailure()
		c.logger.Error("Dead letter dropped", errspkg.ErrDeadLetterUnavailable, fields)
		return
	}

	dlqMsg, err := events.NewDLQMessage(pos.Topic, pos.Partition, pos.Offset, msg.Payload, cause, c.now())
	if err != nil {
		c.metrics.RecordDLQSendFailure()
		c.logger.Error("Dead letter dropped", err, fields)
		return
	}

	headers := metadatapkg.New(metadatapkg.KeyFailureReason, reason).
		With(metadatapkg.KeyCorrelationID, msg.Metadata.Get(metadatapkg.KeyCorrelationID)).
		With(metadatapkg.KeyRequestID, msg.Metadata.Get(metadatapkg.KeyRequestID))

	if err := c.deadLetter.SendToDLQ(WithHeaders(ctx, headers), dlqMsg); err != nil {
		c.metrics.RecordDLQSendFailure()
		c.logger.Error("Dead letter send failed, record dropped", err, fields)
		return
	}
	c.logger.Info("Record routed to dead letter topic", fields)
}

// StopPolling makes Consume return after the record in flight. Safe to call
// more than once.
func (c *RequestConsumer) StopPolling() {
	c.stopOnce.Do(func() {
		c.stopping.Store(true)
		close(c.stopCh)
	})
}

// Close tears down the subscriptions and the subscriber. Records not yet
// handed to the processor are nacked. Safe to call more than once.
func (c *RequestConsumer) Close() error {
	c.StopPolling()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sub, cancel := c.subscriber, c.cancelSubs
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.fanIn.Wait()

	if sub == nil {
		return nil
	}
	if err := sub.Close(); err != nil {
		return fmt.Errorf("close subscriber: %w", err)
	}
	c.logger.Info("Request consumer closed", nil)
	return nil
}
