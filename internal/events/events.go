// Package events defines the wire schemas exchanged with the upstream alerting
// service: analysis requests, analysis results and dead-letter envelopes.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/drblury/bifrost/internal/runtime/jsoncodec"
)

// Schema names carried in the event_message_schema header.
const (
	SchemaAnalysisRequest = "bifrost.AnalysisRequestEvent"
	SchemaAnalysisResult  = "bifrost.AnalysisResultEvent"
	SchemaDLQMessage      = "bifrost.DLQMessage"
)

// Request defaults.
const (
	DefaultAnalysisType  = "error"
	DefaultCallbackTopic = "analysis.result"
)

// Priority ranks a request.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// ParsePriority accepts the upper-case enum names only.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return p, nil
	default:
		return "", fmt.Errorf("invalid priority %q", s)
	}
}

// Severity grades an analysis result.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ParseSeverity is case-insensitive.
func ParseSeverity(s string) (Severity, error) {
	switch v := Severity(strings.ToUpper(strings.TrimSpace(s))); v {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return v, nil
	default:
		return "", fmt.Errorf("invalid severity %q", s)
	}
}

// UnprocessableEventError wraps payloads that failed validation or unmarshalling.
type UnprocessableEventError struct {
	eventMessage string
	err          error
}

func (e *UnprocessableEventError) Error() string {
	return "unprocessable event: " + e.eventMessage + " error: " + e.err.Error()
}

func (e *UnprocessableEventError) Unwrap() error { return e.err }

// AnalysisRequestEvent asks for one log entry to be analysed.
type AnalysisRequestEvent struct {
	RequestID     string         `json:"request_id"`
	Timestamp     time.Time      `json:"timestamp"`
	LogID         int64          `json:"log_id"`
	LogContent    string         `json:"log_content"`
	ServiceName   string         `json:"service_name"`
	Environment   string         `json:"environment"`
	AnalysisType  string         `json:"analysis_type"`
	Priority      Priority       `json:"priority"`
	CallbackTopic string         `json:"callback_topic"`
	CorrelationID string         `json:"correlation_id"`
	Metadata      map[string]any `json:"metadata"`
}

// wireRequest keeps presence information the typed struct would lose.
type wireRequest struct {
	RequestID     string         `json:"request_id"`
	Timestamp     string         `json:"timestamp"`
	LogID         *int64         `json:"log_id"`
	LogContent    *string        `json:"log_content"`
	ServiceName   string         `json:"service_name"`
	Environment   string         `json:"environment"`
	AnalysisType  string         `json:"analysis_type"`
	Priority      string         `json:"priority"`
	CallbackTopic string         `json:"callback_topic"`
	CorrelationID string         `json:"correlation_id"`
	Metadata      map[string]any `json:"metadata"`
}

var nowUTC = func() time.Time { return time.Now().UTC() }

// DecodeRequest parses a raw record body, applies defaults and validates it.
// Every failure is returned as an *UnprocessableEventError.
func DecodeRequest(raw []byte) (*AnalysisRequestEvent, error) {
	unprocessable := func(err error) error {
		return &UnprocessableEventError{eventMessage: truncate(string(raw), 256), err: err}
	}

	var w wireRequest
	if err := jsoncodec.Unmarshal(raw, &w); err != nil {
		return nil, unprocessable(err)
	}

	var errs []error
	if w.RequestID == "" {
		errs = append(errs, errors.New("request_id is required"))
	}
	if w.LogID == nil {
		errs = append(errs, errors.New("log_id is required"))
	}
	if w.LogContent == nil {
		errs = append(errs, errors.New("log_content is required"))
	}
	if w.ServiceName == "" {
		errs = append(errs, errors.New("service_name is required"))
	}
	if w.Environment == "" {
		errs = append(errs, errors.New("environment is required"))
	}
	if w.CorrelationID == "" {
		errs = append(errs, errors.New("correlation_id is required"))
	}

	evt := &AnalysisRequestEvent{
		RequestID:     w.RequestID,
		ServiceName:   w.ServiceName,
		Environment:   w.Environment,
		AnalysisType:  w.AnalysisType,
		CallbackTopic: w.CallbackTopic,
		CorrelationID: w.CorrelationID,
		Metadata:      w.Metadata,
		Priority:      PriorityNormal,
	}
	if w.LogID != nil {
		evt.LogID = *w.LogID
	}
	if w.LogContent != nil {
		evt.LogContent = *w.LogContent
	}
	if w.Priority != "" {
		p, err := ParsePriority(w.Priority)
		if err != nil {
			errs = append(errs, err)
		}
		evt.Priority = p
	}
	if w.Timestamp == "" {
		evt.Timestamp = nowUTC()
	} else {
		ts, err := ParseTimestamp(w.Timestamp)
		if err != nil {
			errs = append(errs, err)
		}
		evt.Timestamp = ts
	}
	if err := errors.Join(errs...); err != nil {
		return nil, unprocessable(err)
	}

	if evt.AnalysisType == "" {
		evt.AnalysisType = DefaultAnalysisType
	}
	if evt.CallbackTopic == "" {
		evt.CallbackTopic = DefaultCallbackTopic
	}
	if evt.Metadata == nil {
		evt.Metadata = map[string]any{}
	}
	return evt, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC3339 and zone-less ISO-8601 timestamps; the latter
// are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// AnalysisResultData is the structured analysis of one log entry.
type AnalysisResultData struct {
	Summary        string   `json:"summary"`
	RootCause      string   `json:"root_cause"`
	Recommendation string   `json:"recommendation"`
	Severity       Severity `json:"severity"`
	Confidence     float64  `json:"confidence"`
}

// Validate checks the severity enum and the confidence range.
func (d *AnalysisResultData) Validate() error {
	var errs []error
	if _, err := ParseSeverity(string(d.Severity)); err != nil {
		errs = append(errs, err)
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		errs = append(errs, fmt.Errorf("confidence %v out of range [0,1]", d.Confidence))
	}
	return errors.Join(errs...)
}

// AnalysisResultEvent answers one AnalysisRequestEvent.
type AnalysisResultEvent struct {
	RequestID         string             `json:"request_id"`
	CorrelationID     string             `json:"correlation_id"`
	Timestamp         time.Time          `json:"timestamp"`
	LogID             int64              `json:"log_id"`
	AnalysisResult    AnalysisResultData `json:"analysis_result"`
	BifrostAnalysisID int64              `json:"bifrost_analysis_id"`
	Model             string             `json:"model"`
	DurationSeconds   float64            `json:"duration_seconds"`
}

// PartitionKey routes every result for one log entity to one partition.
func (e *AnalysisResultEvent) PartitionKey() string {
	return strconv.FormatInt(e.LogID, 10)
}

// RoundSeconds rounds a duration to seconds with two decimals.
func RoundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

// DLQMessage wraps a record that could not be processed.
type DLQMessage struct {
	OriginalTopic     string          `json:"original_topic"`
	OriginalPartition int32           `json:"original_partition"`
	OriginalOffset    int64           `json:"original_offset"`
	ErrorMessage      string          `json:"error_message"`
	ErrorTimestamp    time.Time       `json:"error_timestamp"`
	RetryCount        int             `json:"retry_count"`
	Payload           json.RawMessage `json:"payload"`
}

// NewDLQMessage builds a dead-letter envelope. The payload is embedded as-is
// when it is valid JSON and as a JSON string otherwise.
func NewDLQMessage(topic string, partition int32, offset int64, payload []byte, cause error, now time.Time) (*DLQMessage, error) {
	msg := &DLQMessage{
		OriginalTopic:     topic,
		OriginalPartition: partition,
		OriginalOffset:    offset,
		ErrorTimestamp:    now.UTC(),
		RetryCount:        0,
	}
	if cause != nil {
		msg.ErrorMessage = cause.Error()
	}

	if len(payload) > 0 && jsoncodec.Valid(payload) {
		msg.Payload = append(json.RawMessage(nil), payload...)
		return msg, nil
	}
	encoded, err := jsoncodec.Marshal(string(payload))
	if err != nil {
		return nil, fmt.Errorf("encode dlq payload: %w", err)
	}
	msg.Payload = encoded
	return msg, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
