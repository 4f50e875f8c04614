package runtime

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	"github.com/drblury/bifrost/internal/events"
	loggingpkg "github.com/drblury/bifrost/internal/runtime/logging"
	"github.com/drblury/bifrost/transport"
	"github.com/drblury/bifrost/transport/transporttest"
)

const (
	testPartitionHeader = "test_partition"
	testOffsetHeader    = "test_offset"
)

// fakeDriver hands out transporttest fakes and reads positions from headers.
type fakeDriver struct {
	pub    *transporttest.Publisher
	sub    *transporttest.Subscriber
	pubErr error
	subErr error

	mu      sync.Mutex
	pubOpts []transport.PublisherOptions
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{pub: &transporttest.Publisher{}, sub: &transporttest.Subscriber{}}
}

func (d *fakeDriver) Name() string                         { return "fake" }
func (d *fakeDriver) Capabilities() transport.Capabilities { return transport.ChannelCapabilities }

func (d *fakeDriver) NewPublisher(_ context.Context, _ transport.Config, opts transport.PublisherOptions, _ watermill.LoggerAdapter) (message.Publisher, error) {
	if d.pubErr != nil {
		return nil, d.pubErr
	}
	d.mu.Lock()
	d.pubOpts = append(d.pubOpts, opts)
	d.mu.Unlock()
	return d.pub, nil
}

func (d *fakeDriver) NewSubscriber(_ context.Context, _ transport.Config, _ watermill.LoggerAdapter) (message.Subscriber, error) {
	if d.subErr != nil {
		return nil, d.subErr
	}
	return d.sub, nil
}

func (d *fakeDriver) Position(msg *message.Message) transport.Position {
	pos := transport.UnknownPosition
	if p, err := strconv.ParseInt(msg.Metadata.Get(testPartitionHeader), 10, 32); err == nil {
		pos.Partition = int32(p)
	}
	if o, err := strconv.ParseInt(msg.Metadata.Get(testOffsetHeader), 10, 64); err == nil {
		pos.Offset = o
	}
	return pos
}

func newRecord(partition int32, offset int64, payload string) *message.Message {
	msg := message.NewMessage(watermill.NewUUID(), []byte(payload))
	msg.Metadata.Set(testPartitionHeader, strconv.FormatInt(int64(partition), 10))
	msg.Metadata.Set(testOffsetHeader, strconv.FormatInt(offset, 10))
	return msg
}

func validRequest(requestID string, logID int64) string {
	return `{"request_id":"` + requestID + `","log_id":` + strconv.FormatInt(logID, 10) +
		`,"log_content":"ERROR boom","service_name":"checkout","environment":"prod","correlation_id":"corr-` + requestID + `"}`
}

// recordingDLQ captures dead letters together with the headers on ctx.
type recordingDLQ struct {
	mu      sync.Mutex
	err     error
	msgs    []*events.DLQMessage
	headers []map[string]string
}

func (r *recordingDLQ) SendToDLQ(ctx context.Context, msg *events.DLQMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	r.headers = append(r.headers, headersFromContext(ctx))
	return nil
}

func (r *recordingDLQ) Messages() []*events.DLQMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*events.DLQMessage(nil), r.msgs...)
}

// recordingProcessor remembers every request and answers with outcome.
type recordingProcessor struct {
	mu      sync.Mutex
	seen    []*events.AnalysisRequestEvent
	outcome func(evt *events.AnalysisRequestEvent) Outcome
}

func (p *recordingProcessor) Process(_ context.Context, evt *events.AnalysisRequestEvent) Outcome {
	p.mu.Lock()
	p.seen = append(p.seen, evt)
	p.mu.Unlock()
	if p.outcome != nil {
		return p.outcome(evt)
	}
	return Succeeded()
}

func (p *recordingProcessor) Seen() []*events.AnalysisRequestEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*events.AnalysisRequestEvent(nil), p.seen...)
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for "+what)
	}
}

func testLogger() loggingpkg.ServiceLogger {
	return loggingpkg.Discard()
}
