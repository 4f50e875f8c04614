package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/bifrost/internal/events"
	loggingpkg "github.com/drblury/bifrost/internal/runtime/logging"
)

// JobContext provides information about one record's processing to hooks.
type JobContext struct {
	// HandlerName is the name of the handler processing the job.
	HandlerName string
	// Topic, Partition and Offset locate the record.
	Topic     string
	Partition int32
	Offset    int64
	// MessageUUID is the unique identifier of the message.
	MessageUUID string
	// Metadata contains the message metadata.
	Metadata message.Metadata
	// Context is the context associated with the message.
	Context context.Context
	// StartedAt is when the job started processing.
	StartedAt time.Time
	// Duration is how long the job took (only set in OnJobDone and OnJobError).
	Duration time.Duration
}

// JobHooks defines callbacks for job lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type JobHooks struct {
	// OnJobStart is called before the handler is invoked.
	OnJobStart func(ctx JobContext)

	// OnJobDone is called when a handler successfully completes processing.
	OnJobDone func(ctx JobContext)

	// OnJobError is called when a handler returns an error, panics included.
	OnJobError func(ctx JobContext, err error)
}

// Merge combines two JobHooks, creating a new JobHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func chainHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// JobHooksMiddleware invokes the hooks around the handler.
func JobHooksMiddleware(handlerName string, hooks JobHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			jobCtx := JobContext{
				HandlerName: handlerName,
				MessageUUID: msg.UUID,
				Metadata:    msg.Metadata,
				Context:     msg.Context(),
				StartedAt:   time.Now(),
				Offset:      -1,
			}
			if pos, ok := RecordPositionFromContext(msg.Context()); ok {
				jobCtx.Topic = pos.Topic
				jobCtx.Partition = pos.Partition
				jobCtx.Offset = pos.Offset
			}

			if hooks.OnJobStart != nil {
				hooks.OnJobStart(jobCtx)
			}

			msgs, err := h(msg)
			jobCtx.Duration = time.Since(jobCtx.StartedAt)

			if err != nil {
				if hooks.OnJobError != nil {
					hooks.OnJobError(jobCtx, err)
				}
			} else if hooks.OnJobDone != nil {
				hooks.OnJobDone(jobCtx)
			}

			return msgs, err
		}
	}
}

// LoggingHooks returns hooks that log job lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) JobHooks {
	fields := func(ctx JobContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"handler":      ctx.HandlerName,
			"topic":        ctx.Topic,
			"partition":    ctx.Partition,
			"offset":       ctx.Offset,
			"message_uuid": ctx.MessageUUID,
		}
	}
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Job started", fields(ctx))
		},
		OnJobDone: func(ctx JobContext) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Info("Job completed", f)
		},
		OnJobError: func(ctx JobContext, err error) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error("Job failed", err, f)
		},
	}
}

// MetricsHooks returns hooks that feed the request counters and the
// processing-duration histogram.
func MetricsHooks(m *Metrics) JobHooks {
	return JobHooks{
		OnJobDone: func(ctx JobContext) {
			m.ObserveRequest(OutcomeSucceeded, ctx.Duration)
		},
		OnJobError: func(ctx JobContext, err error) {
			m.ObserveRequest(outcomeLabel(ctx.Context, err), ctx.Duration)
		},
	}
}

func outcomeLabel(ctx context.Context, err error) string {
	var unprocessable *events.UnprocessableEventError
	switch {
	case errors.As(err, &unprocessable):
		return OutcomeDeserialization
	case ctx != nil && ctx.Err() != nil:
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}
