// Package aws publishes eventflow channels to AWS SNS topics ("aws") or SQS
// queues ("aws-sqs"). Setting the endpoint targets LocalStack.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/eventflow/transport"
)

const (
	TransportName    = "aws"
	SQSTransportName = "aws-sqs"
)

// localstackAccountID is what LocalStack accepts when no real account is set.
const localstackAccountID = "000000000000"

// Seams replaced by tests.
var (
	DefaultConfigLoader  = awsconfig.LoadDefaultConfig
	TopicResolverFactory = sns.NewGenerateArnTopicResolver

	PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sns.NewPublisher(cfg, logger)
	}
	SQSPublisherFactory = func(cfg sqs.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sqs.NewPublisher(cfg, logger)
	}
)

func init() {
	Register()
}

func Register() {
	transport.Register(TransportName, Build, transport.AWSCapabilities)
	transport.Register(SQSTransportName, BuildSQS, transport.AWSSQSCapabilities)
}

func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

// settings is the AWS slice of transport.Config, trimmed and parsed once.
type settings struct {
	region    string
	accountID string
	accessKey string
	secretKey string
	endpoint  *url.URL
}

func resolve(cfg transport.Config) (settings, error) {
	s := settings{
		region:    cfg.GetAWSRegion(),
		accountID: strings.Trim(cfg.GetAWSAccountID(), "\"' "),
		accessKey: cfg.GetAWSAccessKeyID(),
		secretKey: cfg.GetAWSSecretAccessKey(),
	}
	if raw := cfg.GetAWSEndpoint(); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return settings{}, fmt.Errorf("parse AWS endpoint %q: %w", raw, err)
		}
		s.endpoint = u
	}
	return s, nil
}

func (s settings) local() bool { return s.endpoint != nil }

// account returns the id used to build topic ARNs. Against LocalStack a
// missing or malformed id falls back to the LocalStack default.
func (s settings) account(logger watermill.LoggerAdapter) string {
	if !s.local() || len(s.accountID) == len(localstackAccountID) {
		return s.accountID
	}
	logger.Info("Using LocalStack account id", watermill.LogFields{"configured": s.accountID})
	return localstackAccountID
}

func (s settings) load(ctx context.Context, logger watermill.LoggerAdapter) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if s.region != "" {
		opts = append(opts, awsconfig.WithRegion(s.region))
	}
	if s.accessKey != "" && s.secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.accessKey, s.secretKey, ""),
		))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS config", err, watermill.LogFields{"region": s.region})
		return aws.Config{}, err
	}
	if s.region != "" {
		awsCfg.Region = s.region
	}
	logger.Info("Loaded AWS config", watermill.LogFields{
		"region":     awsCfg.Region,
		"localstack": s.local(),
		"static_key": s.accessKey != "",
	})
	return awsCfg, nil
}

func (s settings) snsOptions() []func(*amazonsns.Options) {
	if !s.local() {
		return nil
	}
	endpoint := s.endpoint.String()
	return []func(*amazonsns.Options){
		func(o *amazonsns.Options) { o.BaseEndpoint = aws.String(endpoint) },
	}
}

func (s settings) sqsOptions() []func(*amazonsqs.Options) {
	if !s.local() {
		return nil
	}
	return []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *s.endpoint},
		}),
	}
}

// Build opens an SNS sender. Topics are resolved to ARNs from account and
// region, so every channel needs an existing topic named ResourceName(channel).
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Sender, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	awsCfg, err := s.load(ctx, logger)
	if err != nil {
		return nil, err
	}

	account := s.account(logger)
	resolver, err := TopicResolverFactory(account, awsCfg.Region)
	if err != nil {
		return nil, fmt.Errorf("sns topic resolver for account %q: %w", account, err)
	}

	pub, err := PublisherFactory(sns.PublisherConfig{
		TopicResolver: resolver,
		AWSConfig:     awsCfg,
		OptFns:        s.snsOptions(),
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
	if err != nil {
		return nil, err
	}
	return resourceSender{transport.FromPublisher(pub)}, nil
}

// BuildSQS opens a sender that writes each channel to the queue named
// ResourceName(channel).
func BuildSQS(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Sender, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	awsCfg, err := s.load(ctx, logger)
	if err != nil {
		return nil, err
	}

	pub, err := SQSPublisherFactory(sqs.PublisherConfig{
		AWSConfig: awsCfg,
		OptFns:    s.sqsOptions(),
	}, logger)
	if err != nil {
		return nil, err
	}
	return resourceSender{transport.FromPublisher(pub)}, nil
}

// ResourceName maps a channel onto an SNS topic or SQS queue name. AWS names
// allow only letters, digits, hyphens and underscores.
func ResourceName(channel string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, channel)
}

type resourceSender struct {
	transport.Sender
}

func (r resourceSender) Send(ctx context.Context, channel string, msg transport.Message) error {
	return r.Sender.Send(ctx, ResourceName(channel), msg)
}
