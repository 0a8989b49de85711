package transport

// Capabilities describes the features supported by a transport backend.
// Use this to introspect what operations are available at runtime.
type Capabilities struct {
	// SupportsDelay indicates the transport can natively delay message delivery.
	// When false, the publisher holds delayed events itself.
	SupportsDelay bool

	// SupportsOrdering indicates the transport preserves send order per
	// partition or stream.
	SupportsOrdering bool

	// SupportsTracing indicates the transport propagates tracing headers natively.
	SupportsTracing bool

	// SupportsBatching indicates the transport can batch multiple messages.
	SupportsBatching bool

	// SupportsPriority indicates the transport maps the priority header onto
	// broker-side priority.
	SupportsPriority bool

	// SupportsPartitioning indicates the transport routes by partition key.
	SupportsPartitioning bool

	// SupportsBrokerDedup indicates the broker drops repeated message ids.
	SupportsBrokerDedup bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// MaxDelayDuration is the maximum delay duration supported in milliseconds
	// (0 = unlimited/unknown).
	MaxDelayDuration int64

	// Name is the human-readable name of the transport.
	Name string

	// Version is the transport/driver version.
	Version string
}

// RequiresDelayEmulation returns true if the transport needs application-level
// delay handling because it doesn't support native delayed delivery.
func (c Capabilities) RequiresDelayEmulation() bool {
	return !c.SupportsDelay
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
	}

	// KafkaCapabilities for Apache Kafka through Watermill and Sarama.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsBatching:     true,
		SupportsPartitioning: true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// KafkaGoCapabilities for Apache Kafka through segmentio/kafka-go.
	KafkaGoCapabilities = Capabilities{
		Name:                 "kafka-go",
		SupportsOrdering:     true,
		SupportsBatching:     true,
		SupportsPartitioning: true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsPriority: true,
		MaxMessageSize:   134217728, // 128MB broker default
	}

	// NATSCapabilities for NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576, // Default 1MB
	}

	// NATSJetStreamCapabilities for NATS JetStream transport.
	NATSJetStreamCapabilities = Capabilities{
		Name:                "nats-jetstream",
		SupportsOrdering:    true,
		SupportsTracing:     true,
		SupportsBatching:    true,
		SupportsBrokerDedup: true,
		MaxMessageSize:      1048576, // Default 1MB
	}

	// AWSCapabilities for AWS SNS transport.
	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsTracing:  true,
		SupportsBatching: true,
		MaxMessageSize:   262144, // 256KB
	}

	// AWSSQSCapabilities for AWS SQS transport.
	AWSSQSCapabilities = Capabilities{
		Name:             "aws-sqs",
		SupportsDelay:    true,
		SupportsTracing:  true,
		SupportsBatching: true,
		MaxMessageSize:   262144, // 256KB
		MaxDelayDuration: 900000, // 15 minutes in ms
	}

	// HTTPCapabilities for HTTP webhook transport.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	// RedisStreamCapabilities for Redis Streams transport.
	RedisStreamCapabilities = Capabilities{
		Name:             "redis-stream",
		SupportsOrdering: true,
		MaxMessageSize:   536870912, // 512MB string limit
	}
)
