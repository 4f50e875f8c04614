package runtime

import (
	"context"
	"errors"

	"github.com/drblury/bifrost/internal/events"
)

var errUnspecifiedFailure = errors.New("processing failed")

// Outcome is the explicit result of processing one request. A failed outcome
// routes the record to the dead-letter topic; the record is acked either way.
type Outcome struct {
	err error
}

// Succeeded reports a processed request.
func Succeeded() Outcome { return Outcome{} }

// Failed reports a request that could not be processed.
func Failed(err error) Outcome {
	if err == nil {
		err = errUnspecifiedFailure
	}
	return Outcome{err: err}
}

// OK is true for a succeeded outcome.
func (o Outcome) OK() bool { return o.err == nil }

// Err returns the failure cause, nil on success.
func (o Outcome) Err() error { return o.err }

// Processor handles one decoded request.
type Processor interface {
	Process(ctx context.Context, evt *events.AnalysisRequestEvent) Outcome
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, evt *events.AnalysisRequestEvent) Outcome

func (f ProcessorFunc) Process(ctx context.Context, evt *events.AnalysisRequestEvent) Outcome {
	return f(ctx, evt)
}
