// Package rabbitmq provides the RabbitMQ/AMQP bus driver.
package rabbitmq

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/bifrost/transport"
)

// TransportName is the name used to register this driver.
const TransportName = "rabbitmq"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return amqp.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return amqp.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the RabbitMQ driver with the default registry.
func Register() {
	transport.Register(Driver{})
}

// Driver implements transport.Driver with durable work queues: one queue per
// topic, shared by every instance.
type Driver struct{}

func (Driver) Name() string { return TransportName }

// Capabilities returns the capabilities of this driver.
func (Driver) Capabilities() transport.Capabilities { return transport.RabbitMQCapabilities }

func (Driver) NewPublisher(_ context.Context, cfg transport.Config, _ transport.PublisherOptions, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return PublisherFactory(QueueConfig(cfg), logger)
}

func (Driver) NewSubscriber(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return SubscriberFactory(QueueConfig(cfg), logger)
}

// Position is unknown: AMQP queues expose no offsets.
func (Driver) Position(*message.Message) transport.Position {
	return transport.UnknownPosition
}

// QueueConfig returns the durable queue configuration for the broker URL.
func QueueConfig(cfg transport.Config) amqp.Config {
	return amqp.NewDurableQueueConfig(cfg.GetRabbitMQURL())
}

var _ transport.Driver = Driver{}
