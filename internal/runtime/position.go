package runtime

import (
	"context"

	metadatapkg "github.com/drblury/bifrost/internal/runtime/metadata"
)

// RecordPosition identifies the record being processed.
type RecordPosition struct {
	Topic     string
	Partition int32
	Offset    int64
}

type positionKey struct{}

type headersKey struct{}

// WithRecordPosition attaches the in-flight record position to ctx.
func WithRecordPosition(ctx context.Context, pos RecordPosition) context.Context {
	return context.WithValue(ctx, positionKey{}, pos)
}

// RecordPositionFromContext returns the position stored by the consumer.
func RecordPositionFromContext(ctx context.Context) (RecordPosition, bool) {
	pos, ok := ctx.Value(positionKey{}).(RecordPosition)
	return pos, ok
}

// WithHeaders attaches headers that producers copy onto outgoing messages.
func WithHeaders(ctx context.Context, md metadatapkg.Metadata) context.Context {
	return context.WithValue(ctx, headersKey{}, md)
}

func headersFromContext(ctx context.Context) metadatapkg.Metadata {
	if md, ok := ctx.Value(headersKey{}).(metadatapkg.Metadata); ok {
		return md
	}
	return nil
}
