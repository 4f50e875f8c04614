package transport

// Capabilities describes the delivery features a bus driver offers.
type Capabilities struct {
	// SupportsOrdering indicates the driver guarantees ordering within a
	// partition/stream.
	SupportsOrdering bool

	// SupportsPartitioning indicates keyed publishing routes equal keys to the
	// same partition.
	SupportsPartitioning bool

	// SupportsOffsets indicates Position carries a real offset.
	SupportsOffsets bool

	// SupportsAck indicates the driver supports explicit acknowledgment.
	SupportsAck bool

	// SupportsNack indicates a nacked message is redelivered.
	SupportsNack bool

	// SupportsTracing indicates the client propagates tracing headers natively.
	SupportsTracing bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the driver.
	Name string
}

// SupportsReliableDelivery returns true if the driver supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the built-in drivers.
var (
	// ChannelCapabilities for the in-memory Go channel driver.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsOffsets:  true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// KafkaCapabilities for Apache Kafka.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsPartitioning: true,
		SupportsOffsets:      true,
		SupportsAck:          true,
		SupportsNack:         true,
		SupportsTracing:      true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
	}

	// NATSCapabilities for NATS Core.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576, // Default 1MB
	}
)
