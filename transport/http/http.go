// Package http provides an HTTP webhook transport for eventflow. Each send is
// a POST to the publisher base URL followed by the channel name.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// DefaultTimeout bounds a single webhook call.
const DefaultTimeout = 10 * time.Second

// ErrNoURL is returned when no publisher URL is configured.
var ErrNoURL = errors.New("http: publisher URL is required")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

func init() {
	Register()
}

// Register registers the HTTP transport with the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.HTTPCapabilities)
}

// PublisherConfig returns the webhook publisher configuration for baseURL.
func PublisherConfig(baseURL string) http.PublisherConfig {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return http.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
			req, err := http.DefaultMarshalMessageFunc(baseURL+topic, msg)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			return req.WithContext(msg.Context()), nil
		},
		Client: &nethttp.Client{Timeout: DefaultTimeout},
	}
}

// Build creates a new HTTP transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Sender, error) {
	publisherURL := cfg.GetHTTPPublisherURL()
	if publisherURL == "" {
		return nil, ErrNoURL
	}

	publisher, err := PublisherFactory(PublisherConfig(publisherURL), logger)
	if err != nil {
		return nil, err
	}
	return transport.FromPublisher(publisher), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
