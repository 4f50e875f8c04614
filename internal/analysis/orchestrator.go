// Package analysis turns one analysis request into one published result:
// normalize, prompt, call the model, persist, parse, publish.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/drblury/bifrost/internal/ai"
	"github.com/drblury/bifrost/internal/events"
	"github.com/drblury/bifrost/internal/runtime"
	loggingpkg "github.com/drblury/bifrost/internal/runtime/logging"
	"github.com/drblury/bifrost/internal/store"
)

var errResultNotPublished = errors.New("analysis: result publish failed")

// Normalizer prepares a raw log body for the prompt.
type Normalizer interface {
	Normalize(content string) string
}

// ResultSender publishes results. It reports whether the bus accepted them.
type ResultSender interface {
	SendAnalysisResult(ctx context.Context, evt *events.AnalysisResultEvent) bool
}

// Dependencies are the collaborators of an Orchestrator. Parser defaults to
// the heuristic parser.
type Dependencies struct {
	Analyzer   ai.Analyzer
	Store      store.Store
	Normalizer Normalizer
	Parser     ResultParser
	Sender     ResultSender
	Logger     loggingpkg.ServiceLogger
	Metrics    *runtime.Metrics
}

// Orchestrator is stateless apart from its dependencies and safe for
// concurrent use when they are.
type Orchestrator struct {
	analyzer   ai.Analyzer
	store      store.Store
	normalizer Normalizer
	parser     ResultParser
	sender     ResultSender
	logger     loggingpkg.ServiceLogger
	metrics    *runtime.Metrics
	now        func() time.Time
}

// NewOrchestrator checks that every required collaborator is present.
func NewOrchestrator(deps Dependencies) (*Orchestrator, error) {
	var missing []error
	if deps.Analyzer == nil {
		missing = append(missing, errors.New("analyzer is required"))
	}
	if deps.Store == nil {
		missing = append(missing, errors.New("store is required"))
	}
	if deps.Normalizer == nil {
		missing = append(missing, errors.New("normalizer is required"))
	}
	if deps.Sender == nil {
		missing = append(missing, errors.New("result sender is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}

	o := &Orchestrator{
		analyzer:   deps.Analyzer,
		store:      deps.Store,
		normalizer: deps.Normalizer,
		parser:     deps.Parser,
		sender:     deps.Sender,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		now:        time.Now,
	}
	if o.parser == nil {
		o.parser = NewHeuristicParser()
	}
	if o.logger == nil {
		o.logger = loggingpkg.Discard()
	}
	o.logger = o.logger.With(loggingpkg.LogFields{"component": "orchestrator"})
	return o, nil
}

// Process implements runtime.Processor.
func (o *Orchestrator) Process(ctx context.Context, evt *events.AnalysisRequestEvent) runtime.Outcome {
	if _, err := o.Handle(ctx, evt); err != nil {
		return runtime.Failed(err)
	}
	return runtime.Succeeded()
}

// Handle analyses one request and publishes the result. A result the bus
// did not accept is logged and counted but not returned as an error: the
// request is committed regardless.
func (o *Orchestrator) Handle(ctx context.Context, evt *events.AnalysisRequestEvent) (*events.AnalysisResultEvent, error) {
	if evt == nil {
		return nil, errors.New("analysis: request is required")
	}
	start := o.now()
	fields := requestFields(evt)
	o.logger.Info("Processing analysis request", fields)

	result, err := o.handle(ctx, evt, start)
	if err != nil {
		o.logger.Error("Analysis request failed", err, fields)
		return nil, err
	}

	fields["bifrost_analysis_id"] = result.BifrostAnalysisID
	if !o.sender.SendAnalysisResult(ctx, result) {
		o.metrics.RecordAckGap()
		o.logger.Error("Analysis result not published, request will still be committed", errResultNotPublished, fields)
		return result, nil
	}

	fields["duration_seconds"] = result.DurationSeconds
	o.logger.Info("Analysis completed and result published", fields)
	return result, nil
}

func (o *Orchestrator) handle(ctx context.Context, evt *events.AnalysisRequestEvent, start time.Time) (*events.AnalysisResultEvent, error) {
	normalized := o.normalizer.Normalize(evt.LogContent)

	prompt, err := RenderPrompt(normalized)
	if err != nil {
		return nil, err
	}

	resp, err := o.analyzer.Analyze(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("ai analysis: %w", err)
	}
	if resp == nil {
		return nil, errEmptyResponse
	}

	var tokens *int
	if resp.Metadata.Usage != nil {
		total := resp.Metadata.Usage.TotalTokens
		tokens = &total
	}
	id, err := o.store.SaveAnalysis(ctx, store.Analysis{
		Source:      o.analyzer.Source(),
		Model:       resp.Metadata.Model,
		LogContent:  evt.LogContent,
		Response:    resp.Text,
		Duration:    o.now().Sub(start),
		Tags:        Tags(evt),
		ServiceName: evt.ServiceName,
		Environment: evt.Environment,
		TokensUsed:  tokens,
		Status:      store.StatusCompleted,
	})
	if err != nil {
		return nil, fmt.Errorf("save analysis: %w", err)
	}

	data, err := o.parser.Parse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse analysis: %w", err)
	}

	now := o.now()
	return &events.AnalysisResultEvent{
		RequestID:         evt.RequestID,
		CorrelationID:     evt.CorrelationID,
		Timestamp:         now.UTC(),
		LogID:             evt.LogID,
		AnalysisResult:    data,
		BifrostAnalysisID: id,
		Model:             resp.Metadata.Model,
		DurationSeconds:   events.RoundSeconds(now.Sub(start)),
	}, nil
}

// Tags labels a stored analysis with its upstream identity.
func Tags(evt *events.AnalysisRequestEvent) []string {
	return []string{
		"heimdall:log_id:" + strconv.FormatInt(evt.LogID, 10),
		"service:" + evt.ServiceName,
		"env:" + evt.Environment,
		"priority:" + string(evt.Priority),
	}
}

func requestFields(evt *events.AnalysisRequestEvent) loggingpkg.LogFields {
	return loggingpkg.LogFields{
		"request_id":     evt.RequestID,
		"correlation_id": evt.CorrelationID,
		"log_id":         evt.LogID,
		"service_name":   evt.ServiceName,
		"environment":    evt.Environment,
		"priority":       string(evt.Priority),
	}
}
