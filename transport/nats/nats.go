// Package nats provides the NATS bus driver.
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/bifrost/transport"
)

// TransportName is the name used to register this driver.
const TransportName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS driver with the default registry.
func Register() {
	transport.Register(Driver{})
}

// Driver implements transport.Driver for NATS. Subscribers join a queue
// group named after the consumer group so instances share the load.
type Driver struct{}

func (Driver) Name() string { return TransportName }

// Capabilities returns the capabilities of this driver.
func (Driver) Capabilities() transport.Capabilities { return transport.NATSCapabilities }

func (Driver) NewPublisher(_ context.Context, cfg transport.Config, _ transport.PublisherOptions, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return PublisherFactory(
		nats.PublisherConfig{
			URL:       cfg.GetNATSURL(),
			Marshaler: &nats.NATSMarshaler{},
		},
		logger,
	)
}

func (Driver) NewSubscriber(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return SubscriberFactory(
		nats.SubscriberConfig{
			URL:              cfg.GetNATSURL(),
			QueueGroupPrefix: cfg.GetKafkaConsumerGroup(),
			Unmarshaler:      &nats.NATSMarshaler{},
		},
		logger,
	)
}

// Position is unknown: NATS core has no partitions or offsets.
func (Driver) Position(*message.Message) transport.Position {
	return transport.UnknownPosition
}

var _ transport.Driver = Driver{}
