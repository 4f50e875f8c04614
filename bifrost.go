package bifrost

import (
	"github.com/drblury/bifrost/internal/ai"
	"github.com/drblury/bifrost/internal/analysis"
	"github.com/drblury/bifrost/internal/events"
	"github.com/drblury/bifrost/internal/pipeline"
	"github.com/drblury/bifrost/internal/preprocess"
	runtimepkg "github.com/drblury/bifrost/internal/runtime"
	configpkg "github.com/drblury/bifrost/internal/runtime/config"
	errspkg "github.com/drblury/bifrost/internal/runtime/errors"
	idspkg "github.com/drblury/bifrost/internal/runtime/ids"
	jsoncodec "github.com/drblury/bifrost/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/bifrost/internal/runtime/logging"
	metadatapkg "github.com/drblury/bifrost/internal/runtime/metadata"
	"github.com/drblury/bifrost/internal/store"
	"github.com/drblury/bifrost/transport"

	// Registers every bundled bus driver.
	_ "github.com/drblury/bifrost/transport/transports"
)

type (
	Config                = configpkg.Config
	ConfigValidationError = errspkg.ConfigValidationError

	// Wire schemas
	AnalysisRequestEvent    = events.AnalysisRequestEvent
	AnalysisResultEvent     = events.AnalysisResultEvent
	AnalysisResultData      = events.AnalysisResultData
	DLQMessage              = events.DLQMessage
	Priority                = events.Priority
	Severity                = events.Severity
	UnprocessableEventError = events.UnprocessableEventError

	// Pipeline
	Manager      = pipeline.Manager
	Dependencies = pipeline.Dependencies
	Processor    = runtimepkg.Processor
	Outcome      = runtimepkg.Outcome
	Metrics      = runtimepkg.Metrics

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	// Collaborators
	Analyzer     = ai.Analyzer
	AIResponse   = ai.Response
	AIMetadata   = ai.Metadata
	AICache      = ai.ResponseCache
	Store        = store.Store
	ResultParser = analysis.ResultParser
	Normalizer   = analysis.Normalizer

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	TransportDriver       = transport.Driver
	TransportConfig       = transport.Config
	TransportCapabilities = transport.Capabilities
)

var (
	NewManager     = pipeline.NewManager
	LoadConfig     = configpkg.Load
	DefaultConfig  = configpkg.Default
	ValidateConfig = configpkg.ValidateConfig

	DecodeRequest = events.DecodeRequest
	NewDLQMessage = events.NewDLQMessage
	ParseSeverity = events.ParseSeverity
	ParsePriority = events.ParsePriority

	Succeeded  = runtimepkg.Succeeded
	Failed     = runtimepkg.Failed
	NewMetrics = runtimepkg.NewMetrics

	LoggingHooks = runtimepkg.LoggingHooks
	MetricsHooks = runtimepkg.MetricsHooks

	NewAnalyzer         = ai.New
	NewCachedAnalyzer   = ai.NewCachedAnalyzer
	NewRedisCache       = ai.NewRedisCache
	OpenStore           = store.Open
	NewNormalizer       = preprocess.New
	NewHeuristicParser  = analysis.NewHeuristicParser
	InferSeverity       = analysis.InferSeverity
	RenderPrompt        = analysis.RenderPrompt
	GetCapabilities     = transport.GetCapabilities
	ResolveTransport    = transport.Resolve
	RegisteredTransport = transport.DefaultRegistry.Has

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrTopicRequired      = errspkg.ErrTopicRequired
	ErrProducerNotStarted = errspkg.ErrProducerNotStarted
	ErrConsumerNotStarted = errspkg.ErrConsumerNotStarted
	ErrManagerRunning     = errspkg.ErrManagerRunning

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewSlog              = loggingpkg.NewSlog

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Metadata keys carried on bus messages.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyRequestID     = metadatapkg.KeyRequestID
	MetadataKeyLogID         = metadatapkg.KeyLogID
	MetadataKeyEventSchema   = metadatapkg.KeyEventSchema
	MetadataKeyPartitionKey  = metadatapkg.KeyPartitionKey
	MetadataKeyFailureReason = metadatapkg.KeyFailureReason
)

// Enum values.
const (
	PriorityLow      = events.PriorityLow
	PriorityNormal   = events.PriorityNormal
	PriorityHigh     = events.PriorityHigh
	PriorityCritical = events.PriorityCritical

	SeverityLow      = events.SeverityLow
	SeverityMedium   = events.SeverityMedium
	SeverityHigh     = events.SeverityHigh
	SeverityCritical = events.SeverityCritical
)

// PlaceholderConfidence is the confidence attached by the heuristic parser.
const PlaceholderConfidence = analysis.PlaceholderConfidence
