package eventflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

type memorySender struct {
	sent []TransportMessage
}

func (s *memorySender) Send(_ context.Context, _ string, msg TransportMessage) error {
	s.sent = append(s.sent, msg)
	return nil
}

func (s *memorySender) Close() error { return nil }

func TestPublishThroughFacade(t *testing.T) {
	sender := &memorySender{}
	p, err := NewPublisher(PublisherDependencies{Sender: sender})
	if err != nil {
		t.Fatalf("unexpected error creating publisher: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })

	env, err := NewEnvelope("user.registered", "user", "u-1", "1.0.0", map[string]string{
		"userId": "u-1",
		"email":  "ada@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error creating envelope: %v", err)
	}

	res, err := p.Publish(context.Background(), env, PublishOptions{Priority: PriorityLow})
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if res.Kind != ResultPublished {
		t.Fatalf("expected published, got %s (%v)", res.Kind, res.Err)
	}
	if res.Channel != "eventflow.user.v1" {
		t.Fatalf("unexpected channel %q", res.Channel)
	}
	if len(sender.sent) != 1 || sender.sent[0].Headers[MetadataKeyPriority] != "LOW" {
		t.Fatalf("unexpected messages: %#v", sender.sent)
	}
}

func TestFacadeErrorsAreMatchable(t *testing.T) {
	p, err := NewPublisher(PublisherDependencies{Sender: &memorySender{}})
	if err != nil {
		t.Fatalf("unexpected error creating publisher: %v", err)
	}

	env, err := NewEnvelope("user.deleted", "user", "u-1", "1.0.0", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error creating envelope: %v", err)
	}
	if _, err := p.Publish(context.Background(), env, PublishOptions{}); !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected unknown event type, got %v", err)
	}

	if _, err := NewPublisher(PublisherDependencies{}); !errors.Is(err, ErrTransportRequired) {
		t.Fatalf("expected transport required error, got %v", err)
	}

	if ClassifyError(NonRetryable(errors.New("too large"))).String() != "permanent" {
		t.Fatal("expected NonRetryable errors to classify as permanent")
	}
}

func TestProtoEnvelope(t *testing.T) {
	msg, err := structpb.NewStruct(map[string]any{"userId": "u-1", "email": "ada@example.com"})
	if err != nil {
		t.Fatalf("unexpected error building struct: %v", err)
	}
	env, err := NewProtoEnvelope("user.registered", "user", "u-1", "1.0.0", msg)
	if err != nil {
		t.Fatalf("unexpected error creating envelope: %v", err)
	}

	var payload map[string]any
	if err := Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["userId"] != "u-1" {
		t.Fatalf("unexpected payload %#v", payload)
	}

	if _, err := NewProtoEnvelope("user.registered", "user", "u-1", "1.0.0", nil); err == nil {
		t.Fatal("expected error for nil proto payload")
	}
}

func TestAfterSuccessFacade(t *testing.T) {
	sender := &memorySender{}
	p, err := NewPublisher(PublisherDependencies{Sender: sender})
	if err != nil {
		t.Fatalf("unexpected error creating publisher: %v", err)
	}

	done := make(chan PublishResult, 1)
	register := AfterSuccess(p,
		func(context.Context) (string, error) { return "u-2", nil },
		func(id string) (Envelope, PublishOptions, error) {
			env, err := NewEnvelope("user.registered", "user", id, "1.0.0", map[string]string{"userId": id, "email": "grace@example.com"})
			return env, PublishOptions{}, err
		},
		func(r PublishResult) { done <- r },
	)

	id, err := register(context.Background())
	if err != nil || id != "u-2" {
		t.Fatalf("unexpected operation result %q, %v", id, err)
	}

	select {
	case res := <-done:
		if res.Kind != ResultPublished {
			t.Fatalf("expected published, got %s", res.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("publish did not complete")
	}
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if _, err := MarshalIndent(payload, "", "  "); err != nil {
		t.Fatalf("marshal indent alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestMetadataExport(t *testing.T) {
	md := NewMetadata("key", "value")
	if md["key"] != "value" {
		t.Fatalf("expected metadata to contain key, got %#v", md)
	}
}

func TestTransportRegistryExports(t *testing.T) {
	if DefaultTransportRegistry == nil {
		t.Fatal("expected default transport registry")
	}
	if caps := CapabilitiesOf("not-registered"); caps.Name != "not-registered" {
		t.Fatalf("unexpected capabilities %#v", caps)
	}
	if _, err := BuildTransport(context.Background(), StaticTransportConfig{Transport: "not-registered"}, nil); !errors.Is(err, ErrUnknownTransport) {
		t.Fatalf("expected unknown transport, got %v", err)
	}
	if NewEventID() == NewEventID() {
		t.Fatal("expected unique event ids")
	}
}
