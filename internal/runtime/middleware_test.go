package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	metadatapkg "github.com/drblury/bifrost/internal/runtime/metadata"
)

func TestChainRunsFirstMiddlewareOutermost(t *testing.T) {
	var order []string
	mw := func(name string) message.HandlerMiddleware {
		return func(h message.HandlerFunc) message.HandlerFunc {
			return func(msg *message.Message) ([]*message.Message, error) {
				order = append(order, name+"-in")
				out, err := h(msg)
				order = append(order, name+"-out")
				return out, err
			}
		}
	}

	h := Chain(func(*message.Message) ([]*message.Message, error) {
		order = append(order, "handler")
		return nil, nil
	}, mw("a"), nil, mw("b"))

	_, err := h(message.NewMessage("1", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"a-in", "b-in", "handler", "b-out", "a-out"}, order)
}

func TestCorrelationIDMiddleware(t *testing.T) {
	h := CorrelationIDMiddleware()(func(*message.Message) ([]*message.Message, error) { return nil, nil })

	fresh := message.NewMessage("1", nil)
	_, _ = h(fresh)
	assert.NotEmpty(t, fresh.Metadata.Get(metadatapkg.KeyCorrelationID))

	existing := message.NewMessage("2", nil)
	existing.Metadata.Set(metadatapkg.KeyCorrelationID, "corr-1")
	_, _ = h(existing)
	assert.Equal(t, "corr-1", existing.Metadata.Get(metadatapkg.KeyCorrelationID))
}

func TestTracerMiddlewareStartsSpanAndPassesError(t *testing.T) {
	boom := errors.New("boom")
	var sawSpan bool
	h := TracerMiddleware()(func(msg *message.Message) ([]*message.Message, error) {
		sawSpan = trace.SpanFromContext(msg.Context()) != nil
		return nil, boom
	})

	msg := message.NewMessage("1", nil)
	msg.SetContext(WithRecordPosition(context.Background(), RecordPosition{Topic: "t", Partition: 1, Offset: 2}))
	_, err := h(msg)
	assert.ErrorIs(t, err, boom)
	assert.True(t, sawSpan)

	pos, ok := RecordPositionFromContext(msg.Context())
	require.True(t, ok, "span context keeps the record position")
	assert.Equal(t, int64(2), pos.Offset)
}

func TestRecovererMiddlewareTurnsPanicIntoError(t *testing.T) {
	h := RecovererMiddleware()(func(*message.Message) ([]*message.Message, error) {
		panic("kaboom")
	})

	var err error
	assert.NotPanics(t, func() { _, err = h(message.NewMessage("1", nil)) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestDefaultMiddlewaresOrder(t *testing.T) {
	mws := DefaultMiddlewares(testLogger(), JobHooks{})
	assert.Len(t, mws, 5)
}
