// Package transport defines the bus driver contract used by the analysis
// pipeline. Each driver (kafka, rabbitmq, nats, channel) lives in its own
// sub-package and registers itself with the transport registry.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Position locates a record inside its topic. Offset is -1 when the bus has
// no notion of offsets.
type Position struct {
	Partition int32
	Offset    int64
}

// UnknownPosition is returned by drivers that cannot locate a record.
var UnknownPosition = Position{Partition: 0, Offset: -1}

// PublisherOptions tunes a publisher for its role.
type PublisherOptions struct {
	// Name identifies the publisher in logs ("result", "dlq").
	Name string
	// Keyed routes each message by its partition key header so records sharing
	// a key land on the same partition, in publish order.
	Keyed bool
}

// Driver builds publishers and subscribers for one bus technology.
type Driver interface {
	Name() string
	Capabilities() Capabilities
	NewPublisher(ctx context.Context, cfg Config, opts PublisherOptions, logger watermill.LoggerAdapter) (message.Publisher, error)
	NewSubscriber(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (message.Subscriber, error)
	// Position reports where a consumed message came from.
	Position(msg *message.Message) Position
}

// Config provides the configuration values needed by drivers.
// This interface allows drivers to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetPubSubSystem returns the driver name.
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string
	GetKafkaSessionTimeout() time.Duration
	GetKafkaMaxPollInterval() time.Duration
	GetKafkaProducerRetries() int
	GetKafkaLinger() time.Duration
	GetKafkaBatchBytes() int
	GetKafkaCompression() string
	GetKafkaTracingEnabled() bool

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string
}
