package eventflow

import (
	"context"

	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/eventflow/internal/runtime"
	"github.com/drblury/eventflow/internal/runtime/breaker"
	"github.com/drblury/eventflow/internal/runtime/channels"
	configpkg "github.com/drblury/eventflow/internal/runtime/config"
	"github.com/drblury/eventflow/internal/runtime/deadletter"
	"github.com/drblury/eventflow/internal/runtime/envelope"
	errspkg "github.com/drblury/eventflow/internal/runtime/errors"
	idspkg "github.com/drblury/eventflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/eventflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/eventflow/internal/runtime/metadata"
	"github.com/drblury/eventflow/internal/runtime/metrics"
	"github.com/drblury/eventflow/internal/runtime/ratelimit"
	"github.com/drblury/eventflow/internal/runtime/schema"
	"github.com/drblury/eventflow/internal/runtime/store"
	transportpkg "github.com/drblury/eventflow/internal/runtime/transport"
	newtransport "github.com/drblury/eventflow/transport"
)

type (
	Config              = configpkg.Config
	RateLimit           = configpkg.RateLimit
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Health              = runtimepkg.Health
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory

	Publisher             = runtimepkg.Publisher
	PublisherDependencies = runtimepkg.PublisherDependencies
	PublishResult         = runtimepkg.PublishResult
	ResultKind            = runtimepkg.ResultKind

	Envelope         = envelope.Envelope
	PublishOptions   = envelope.PublishOptions
	Priority         = envelope.Priority
	ValidationError  = envelope.ValidationError
	FieldError       = envelope.FieldError
	ErrorClass       = envelope.ErrorClass
	DeadLetterHeader = envelope.DeadLetterHeader
	DeadLetterRecord = envelope.DeadLetterRecord

	SchemaRegistry   = schema.Registry
	SchemaDefinition = schema.Definition
	Family           = channels.Family
	ChannelNaming    = channels.Naming

	BreakerState          = breaker.State
	CircuitOpenError      = breaker.CircuitOpenError
	RateLimitedError      = ratelimit.RateLimitedError
	MetricsSink           = metrics.Sink
	MetricsSnapshot       = metrics.Snapshot
	SharedStore           = store.Store
	DeadLetterRouter      = deadletter.Router
	DeadLetterDiagnostics = deadletter.Diagnostics

	SendFunc               = runtimepkg.SendFunc
	SendMiddleware         = runtimepkg.SendMiddleware
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	PublishContext = runtimepkg.PublishContext
	PublishHooks   = runtimepkg.PublishHooks

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError

	// Modular transport types
	TransportSender       = newtransport.Sender
	TransportMessage      = newtransport.Message
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
	StaticTransportConfig = newtransport.StaticConfig
)

// Publish outcomes.
const (
	ResultPublished    = runtimepkg.ResultPublished
	ResultDuplicate    = runtimepkg.ResultDuplicate
	ResultRejected     = runtimepkg.ResultRejected
	ResultRateLimited  = runtimepkg.ResultRateLimited
	ResultCircuitOpen  = runtimepkg.ResultCircuitOpen
	ResultExpired      = runtimepkg.ResultExpired
	ResultDeadLettered = runtimepkg.ResultDeadLettered
)

// Priorities.
const (
	PriorityLow    = envelope.PriorityLow
	PriorityMedium = envelope.PriorityMedium
	PriorityHigh   = envelope.PriorityHigh
)

// Breaker states.
const (
	BreakerClosed   = breaker.StateClosed
	BreakerHalfOpen = breaker.StateHalfOpen
	BreakerOpen     = breaker.StateOpen
)

// Aggregate families.
const (
	FamilyCard         = channels.Card
	FamilyTransaction  = channels.Transaction
	FamilyUser         = channels.User
	FamilyNotification = channels.Notification
	FamilySystem       = channels.System
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	NewPublisher   = runtimepkg.NewPublisher
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewEnvelope       = envelope.New
	UnmarshalEnvelope = envelope.Unmarshal
	ParsePriority     = envelope.ParsePriority
	RetriesOf         = envelope.RetriesOf
	NonRetryable      = envelope.NonRetryable
	ClassifyError     = envelope.ClassifyError
	IsRetryable       = envelope.IsRetryable
	DecodeDeadLetter  = deadletter.Decode

	DefaultSchemaRegistry = schema.Default
	NewSchemaRegistry     = schema.NewRegistry

	NewMemoryStore   = store.NewMemoryStore
	NewRedisStore    = store.NewRedisStore
	NewPrometheus    = metrics.NewPrometheus
	NopMetrics       = metrics.Nop
	NewStaticFactory = transportpkg.Static

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	AttemptHeaderMiddleware = runtimepkg.AttemptHeaderMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	LogAttemptsMiddleware   = runtimepkg.LogAttemptsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware
	AttemptFromContext      = runtimepkg.AttemptFromContext

	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	// Modular transport registry. Import individual transports via
	// _ "github.com/drblury/eventflow/transport/kafka".
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build
	CapabilitiesOf           = newtransport.CapabilitiesOf
	FromPublisher            = newtransport.FromPublisher

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrValidation        = envelope.ErrValidation
	ErrUnknownEventType  = envelope.ErrUnknownEventType
	ErrPermanent         = envelope.ErrPermanent
	ErrCircuitOpen       = breaker.ErrCircuitOpen
	ErrRateLimited       = ratelimit.ErrRateLimited
	ErrPublishExpired    = errspkg.ErrPublishExpired
	ErrDeadLettered      = errspkg.ErrDeadLettered
	ErrPublisherClosed   = errspkg.ErrPublisherClosed
	ErrPublisherRequired = errspkg.ErrPublisherRequired
	ErrTransportRequired = errspkg.ErrTransportRequired
	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrUnknownTransport  = newtransport.ErrUnknownTransport

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopLogger            = loggingpkg.NopLogger

	NewMetadata = metadatapkg.New

	// NewEventID generates a UUID suitable for Envelope.ID.
	NewEventID = idspkg.NewEventID
)

// Metadata keys set on every transport message.
const (
	MetadataKeyEventID       = metadatapkg.KeyEventID
	MetadataKeyEventType     = metadatapkg.KeyEventType
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyCausationID   = metadatapkg.KeyCausationID
	MetadataKeyPartitionKey  = metadatapkg.KeyPartitionKey
	MetadataKeyPriority      = metadatapkg.KeyPriority
	MetadataKeyAttempt       = metadatapkg.KeyAttempt
)

// NewProtoEnvelope builds an envelope whose payload is the JSON form of msg.
func NewProtoEnvelope(eventType, aggregateName, aggregateID, version string, msg proto.Message) (Envelope, error) {
	return envelope.NewFromProto(eventType, aggregateName, aggregateID, version, msg)
}

// AfterSuccess wraps op so that each successful run publishes the event built
// from its result. See runtime.AfterSuccess.
func AfterSuccess[T any](p *Publisher, op func(ctx context.Context) (T, error), build func(T) (Envelope, PublishOptions, error), onResult func(PublishResult)) func(ctx context.Context) (T, error) {
	return runtimepkg.AfterSuccess(p, op, build, onResult)
}
