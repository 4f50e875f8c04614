// Package channel provides an in-memory Go channel bus driver. It is useful
// for tests and local development.
package channel

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/bifrost/internal/runtime/metadata"
	"github.com/drblury/bifrost/transport"
)

// TransportName is the name used to register this driver.
const TransportName = "channel"

// ErrClosed is returned by publishers and subscribers of a closed driver.
var ErrClosed = errors.New("channel: driver closed")

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

func init() {
	Register()
}

// Register registers a fresh channel driver with the default registry.
func Register() {
	transport.Register(New(), "gochannel")
}

// Driver keeps one append-only log per topic, shared by every publisher and
// subscriber it hands out. Records get partition 0 and their index in the
// log as offset. Each subscription replays its topic from offset 0 through a
// private GoChannel that blocks until the record in flight is acked, so
// delivery follows log order and a nack redelivers the same record.
type Driver struct {
	mu       sync.Mutex
	logs     map[string][]*message.Message
	appended chan struct{}

	closeOnce sync.Once
	closing   chan struct{}
	cursors   sync.WaitGroup

	open atomic.Int64
}

// New returns an empty driver.
func New() *Driver {
	return &Driver{
		logs:     make(map[string][]*message.Message),
		appended: make(chan struct{}),
		closing:  make(chan struct{}),
	}
}

func (d *Driver) Name() string { return TransportName }

// Capabilities returns the capabilities of this driver.
func (d *Driver) Capabilities() transport.Capabilities { return transport.ChannelCapabilities }

func (d *Driver) NewPublisher(_ context.Context, _ transport.Config, _ transport.PublisherOptions, _ watermill.LoggerAdapter) (message.Publisher, error) {
	d.open.Add(1)
	return &publisher{driver: d}, nil
}

func (d *Driver) NewSubscriber(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	d.open.Add(1)
	return &subscriber{driver: d, logger: logger}, nil
}

// Position reads the partition and offset stamped on publish.
func (d *Driver) Position(msg *message.Message) transport.Position {
	pos := transport.UnknownPosition
	if msg == nil {
		return pos
	}
	if p, err := strconv.ParseInt(msg.Metadata.Get(metadata.KeyPartition), 10, 32); err == nil {
		pos.Partition = int32(p)
	}
	if o, err := strconv.ParseInt(msg.Metadata.Get(metadata.KeyOffset), 10, 64); err == nil {
		pos.Offset = o
	}
	return pos
}

// OpenHandles reports publishers and subscribers that were not closed yet.
func (d *Driver) OpenHandles() int64 {
	return d.open.Load()
}

// Close ends every subscription and waits for their delivery loops.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() { close(d.closing) })
	d.cursors.Wait()
	return nil
}

func (d *Driver) isClosed() bool {
	select {
	case <-d.closing:
		return true
	default:
		return false
	}
}

func (d *Driver) append(topic string, msgs []*message.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, msg := range msgs {
		offset := len(d.logs[topic])
		msg.Metadata.Set(metadata.KeyPartition, "0")
		msg.Metadata.Set(metadata.KeyOffset, strconv.Itoa(offset))
		d.logs[topic] = append(d.logs[topic], msg.Copy())
	}
	close(d.appended)
	d.appended = make(chan struct{})
}

// read returns the records of topic from offset next on, and a channel
// closed by the next append.
func (d *Driver) read(topic string, next int) ([]*message.Message, <-chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	log := d.logs[topic]
	if next >= len(log) {
		return nil, d.appended
	}
	return log[next:len(log):len(log)], d.appended
}

// deliver feeds topic into out one record at a time until ctx ends or the
// driver closes.
func (d *Driver) deliver(ctx context.Context, topic string, out *gochannel.GoChannel) {
	defer d.cursors.Done()
	defer out.Close()

	go func() {
		select {
		case <-ctx.Done():
		case <-d.closing:
		}
		_ = out.Close()
	}()

	next := 0
	for {
		msgs, appended := d.read(topic, next)
		if len(msgs) == 0 {
			select {
			case <-appended:
				continue
			case <-ctx.Done():
				return
			case <-d.closing:
				return
			}
		}
		for _, msg := range msgs {
			if ctx.Err() != nil || d.isClosed() {
				return
			}
			if err := out.Publish(topic, msg); err != nil {
				return
			}
			next++
		}
	}
}

type publisher struct {
	driver *Driver
	closed sync.Once
}

func (p *publisher) Publish(topic string, messages ...*message.Message) error {
	if p.driver.isClosed() {
		return ErrClosed
	}
	p.driver.append(topic, messages)
	return nil
}

func (p *publisher) Close() error {
	p.closed.Do(func() { p.driver.open.Add(-1) })
	return nil
}

type subscriber struct {
	driver *Driver
	logger watermill.LoggerAdapter
	closed sync.Once
}

// Subscribe replays topic from offset 0 and then follows new records. The
// output channel closes when ctx is cancelled or the driver closes.
func (s *subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if s.driver.isClosed() {
		return nil, ErrClosed
	}
	out := Factory(gochannel.Config{BlockPublishUntilSubscriberAck: true}, s.logger)
	msgs, err := out.Subscribe(ctx, topic)
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	s.driver.cursors.Add(1)
	go s.driver.deliver(ctx, topic, out)
	return msgs, nil
}

func (s *subscriber) Close() error {
	s.closed.Do(func() { s.driver.open.Add(-1) })
	return nil
}

var _ transport.Driver = (*Driver)(nil)
