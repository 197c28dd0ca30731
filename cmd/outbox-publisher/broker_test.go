package main

import (
	"context"
	"errors"
	"testing"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/tableside-backend/pkg/outbox/registry"
)

type fakeExchange struct {
	routingKey string
	headers    map[string]string
	body       []byte
	err        error
}

func (f *fakeExchange) Ping(context.Context) error { return nil }

func (f *fakeExchange) Publish(_ context.Context, routingKey string, body []byte, headers map[string]string) error {
	f.routingKey = routingKey
	f.body = body
	f.headers = headers
	return f.err
}

func TestRabbitBrokerRoutesByTopicAndEventType(t *testing.T) {
	exchange := &fakeExchange{}
	b := newRabbitBroker(exchange)

	err := b.Publish(context.Background(), brokerMessage{
		Topic:      "kitchen",
		EventType:  "order_sent",
		Data:       []byte(`{"version":1}`),
		Attributes: map[string]string{"event_id": "evt-1"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if exchange.routingKey != "kitchen.order_sent" {
		t.Fatalf("unexpected routing key %q", exchange.routingKey)
	}
	if exchange.headers["event_id"] != "evt-1" {
		t.Fatalf("headers not forwarded")
	}
}

func TestRabbitBrokerPropagatesNack(t *testing.T) {
	b := newRabbitBroker(&fakeExchange{err: errors.New("publish NACK from broker")})

	err := b.Publish(context.Background(), brokerMessage{Topic: "billing", EventType: "payment_validated"})
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		t.Fatalf("nack should stay retryable")
	}
}

type fakeTopicClient struct{}

func (fakeTopicClient) Ping(context.Context) error { return nil }

func (fakeTopicClient) Publisher(string) *gcppubsub.Publisher { return nil }

func TestPubSubBrokerMissingTopicIsNonRetryable(t *testing.T) {
	b := newPubSubBroker(fakeTopicClient{})

	err := b.Publish(context.Background(), brokerMessage{Topic: "unknown"})
	var nonRetry registry.NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}
