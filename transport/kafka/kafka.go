// Package kafka provides the Kafka bus driver.
package kafka

import (
	"context"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/bifrost/internal/runtime/metadata"
	"github.com/drblury/bifrost/transport"
)

// TransportName is the name used to register this driver.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the Kafka driver with the default registry.
func Register() {
	transport.Register(Driver{})
}

// Driver implements transport.Driver on top of watermill-kafka.
type Driver struct{}

func (Driver) Name() string { return TransportName }

// Capabilities returns the capabilities of this driver.
func (Driver) Capabilities() transport.Capabilities { return transport.KafkaCapabilities }

// NewPublisher builds a synchronous publisher. Keyed publishers hash the
// partition key header so equal keys share a partition.
func (Driver) NewPublisher(_ context.Context, cfg transport.Config, opts transport.PublisherOptions, logger watermill.LoggerAdapter) (message.Publisher, error) {
	var marshaler kafka.Marshaler = kafka.DefaultMarshaler{}
	if opts.Keyed {
		marshaler = kafka.NewWithPartitioningMarshaler(PartitionKey)
	}

	return PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               cfg.GetKafkaBrokers(),
			Marshaler:             marshaler,
			OverwriteSaramaConfig: SaramaPublisherConfig(cfg),
			OTELEnabled:           cfg.GetKafkaTracingEnabled(),
		},
		logger,
	)
}

// NewSubscriber builds a consumer-group subscriber. Offsets are committed
// only for acked messages. An unreachable cluster fails Subscribe; once
// subscribed, watermill-kafka reconnects on broker loss and keeps the output
// channel open, so later outages stall the consumer instead of ending it.
func (Driver) NewSubscriber(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               cfg.GetKafkaBrokers(),
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         cfg.GetKafkaConsumerGroup(),
			OverwriteSaramaConfig: SaramaSubscriberConfig(cfg),
			OTELEnabled:           cfg.GetKafkaTracingEnabled(),
		},
		logger,
	)
}

// Position reads the partition and offset the subscriber stored in the
// message context.
func (Driver) Position(msg *message.Message) transport.Position {
	pos := transport.UnknownPosition
	if msg == nil {
		return pos
	}
	if p, ok := kafka.MessagePartitionFromCtx(msg.Context()); ok {
		pos.Partition = p
	}
	if o, ok := kafka.MessagePartitionOffsetFromCtx(msg.Context()); ok {
		pos.Offset = o
	}
	return pos
}

// PartitionKey extracts the routing key set by the producers.
func PartitionKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(metadata.KeyPartitionKey), nil
}

// SaramaPublisherConfig applies the producer durability and batching settings:
// acks from all in-sync replicas, bounded retries, a single in-flight request
// per connection, linger and batch size, compression.
func SaramaPublisherConfig(cfg transport.Config) *sarama.Config {
	sc := kafka.DefaultSaramaSyncPublisherConfig()
	if id := cfg.GetKafkaClientID(); id != "" {
		sc.ClientID = id
	}
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = cfg.GetKafkaProducerRetries()
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Flush.Frequency = cfg.GetKafkaLinger()
	sc.Producer.Flush.Bytes = cfg.GetKafkaBatchBytes()
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.Compression = compressionCodec(cfg.GetKafkaCompression())
	if sc.Producer.Compression == sarama.CompressionZSTD && !sc.Version.IsAtLeast(sarama.V2_1_0_0) {
		sc.Version = sarama.V2_1_0_0
	}
	return sc
}

// SaramaSubscriberConfig tunes the consumer group so a record may take up to
// the max poll interval without the member being evicted. Heartbeats run on
// their own goroutine inside sarama. Auto commit is off: the subscriber
// commits the session right after each acked record.
func SaramaSubscriberConfig(cfg transport.Config) *sarama.Config {
	sc := kafka.DefaultSaramaSubscriberConfig()
	if id := cfg.GetKafkaClientID(); id != "" {
		sc.ClientID = id
	}
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Offsets.AutoCommit.Enable = false

	if session := cfg.GetKafkaSessionTimeout(); session > 0 {
		sc.Consumer.Group.Session.Timeout = session
		sc.Consumer.Group.Heartbeat.Interval = session / 3
	}
	if poll := cfg.GetKafkaMaxPollInterval(); poll > 0 {
		sc.Consumer.Group.Rebalance.Timeout = poll
		sc.Consumer.MaxProcessingTime = poll
	}
	return sc
}

func compressionCodec(name string) sarama.CompressionCodec {
	switch strings.ToLower(name) {
	case "gzip":
		return sarama.CompressionGZIP
	case "snappy":
		return sarama.CompressionSnappy
	case "lz4":
		return sarama.CompressionLZ4
	case "zstd":
		return sarama.CompressionZSTD
	default:
		return sarama.CompressionNone
	}
}

var _ transport.Driver = Driver{}
