// Package transporttest provides fixtures for exercising transport drivers.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Config is a static transport.Config.
type Config struct {
	System          string
	Brokers         []string
	ClientID        string
	Group           string
	SessionTimeout  time.Duration
	MaxPollInterval time.Duration
	ProducerRetries int
	Linger          time.Duration
	BatchBytes      int
	Compression     string
	Tracing         bool
	RabbitMQURL     string
	NATSURL         string
}

func (c *Config) GetPubSubSystem() string                { return c.System }
func (c *Config) GetKafkaBrokers() []string              { return c.Brokers }
func (c *Config) GetKafkaClientID() string               { return c.ClientID }
func (c *Config) GetKafkaConsumerGroup() string          { return c.Group }
func (c *Config) GetKafkaSessionTimeout() time.Duration  { return c.SessionTimeout }
func (c *Config) GetKafkaMaxPollInterval() time.Duration { return c.MaxPollInterval }
func (c *Config) GetKafkaProducerRetries() int           { return c.ProducerRetries }
func (c *Config) GetKafkaLinger() time.Duration          { return c.Linger }
func (c *Config) GetKafkaBatchBytes() int                { return c.BatchBytes }
func (c *Config) GetKafkaCompression() string            { return c.Compression }
func (c *Config) GetKafkaTracingEnabled() bool           { return c.Tracing }
func (c *Config) GetRabbitMQURL() string                 { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string                     { return c.NATSURL }

// Publisher records every published message.
type Publisher struct {
	mu       sync.Mutex
	Err      error
	Messages map[string][]*message.Message
	Closed   bool
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if p.Messages == nil {
		p.Messages = make(map[string][]*message.Message)
	}
	p.Messages[topic] = append(p.Messages[topic], messages...)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Published returns a copy of the messages sent to topic.
func (p *Publisher) Published(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.Messages[topic]...)
}

// IsClosed reports whether Close was called.
func (p *Publisher) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Closed
}

// Subscriber hands out one channel per topic, fed by the test.
type Subscriber struct {
	mu       sync.Mutex
	Err      error
	channels map[string]chan *message.Message
	Closed   bool
}

func (s *Subscriber) Subscribe(_ context.Context, topic string) (<-chan *message.Message, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Channel(topic), nil
}

// Channel returns the feed channel for topic, creating it on first use.
func (s *Subscriber) Channel(topic string) chan *message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels == nil {
		s.channels = make(map[string]chan *message.Message)
	}
	ch, ok := s.channels[topic]
	if !ok {
		ch = make(chan *message.Message, 16)
		s.channels[topic] = ch
	}
	return ch
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (s *Subscriber) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Closed
}
