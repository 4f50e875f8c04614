package runtime

import (
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	idspkg "github.com/drblury/bifrost/internal/runtime/ids"
	loggingpkg "github.com/drblury/bifrost/internal/runtime/logging"
	metadatapkg "github.com/drblury/bifrost/internal/runtime/metadata"
)

const tracerName = "github.com/drblury/bifrost/consumer"

// DefaultMiddlewares returns the standard chain wrapped around the request
// handler, outermost first.
func DefaultMiddlewares(logger loggingpkg.ServiceLogger, hooks JobHooks) []message.HandlerMiddleware {
	return []message.HandlerMiddleware{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(logger),
		TracerMiddleware(),
		JobHooksMiddleware("analysis_request", hooks),
		RecovererMiddleware(),
	}
}

// Chain applies middlewares so the first one runs first.
func Chain(h message.HandlerFunc, mws ...message.HandlerMiddleware) message.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
				msg.Metadata.Set(metadatapkg.KeyCorrelationID, idspkg.CreateULID())
			}
			return h(msg)
		}
	}
}

// LogMessagesMiddleware logs the payload and metadata of handled messages at debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry consumer span.
func TracerMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			tracer := otel.Tracer(tracerName)
			ctx, span := tracer.Start(
				msg.Context(),
				"ProcessAnalysisRequest",
				trace.WithSpanKind(trace.SpanKindConsumer),
			)
			defer span.End()
			msg.SetContext(ctx)

			attrs := []attribute.KeyValue{
				attribute.String("message.uuid", msg.UUID),
				attribute.String("bifrost.correlation_id", msg.Metadata.Get(metadatapkg.KeyCorrelationID)),
			}
			if pos, ok := RecordPositionFromContext(ctx); ok {
				attrs = append(attrs,
					attribute.String("messaging.destination.name", pos.Topic),
					attribute.String("messaging.destination.partition.id", strconv.FormatInt(int64(pos.Partition), 10)),
					attribute.Int64("messaging.kafka.offset", pos.Offset),
				)
			}
			span.SetAttributes(attrs...)

			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return msgs, err
		}
	}
}

// RecovererMiddleware converts panics into handler errors so they become
// failed outcomes.
func RecovererMiddleware() message.HandlerMiddleware {
	return middleware.Recoverer
}
