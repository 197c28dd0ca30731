package main

import (
	"context"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/tableside-backend/pkg/outbox/registry"
	"github.com/angelmondragon/tableside-backend/pkg/rabbitmq"
)

// brokerMessage is one outbox row ready for delivery.
type brokerMessage struct {
	Topic      string
	EventType  string
	Data       []byte
	Attributes map[string]string
}

type broker interface {
	Name() string
	Ping(context.Context) error
	Publish(context.Context, brokerMessage) error
}

type topicClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type pubsubBroker struct {
	client topicClient
}

func newPubSubBroker(client topicClient) broker {
	return &pubsubBroker{client: client}
}

func (b *pubsubBroker) Name() string { return "pubsub" }

func (b *pubsubBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}

func (b *pubsubBroker) Publish(ctx context.Context, msg brokerMessage) error {
	pub := b.client.Publisher(msg.Topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", msg.Topic))
	}
	result := pub.Publish(ctx, &gcppubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	if result == nil {
		return errors.New("publish result is nil")
	}
	_, err := result.Get(ctx)
	return err
}

type exchangeClient interface {
	Ping(context.Context) error
	Publish(ctx context.Context, routingKey string, body []byte, headers map[string]string) error
}

// rabbitBroker routes every message as <topic>.<event_type> on the shared exchange.
type rabbitBroker struct {
	client exchangeClient
}

func newRabbitBroker(client exchangeClient) broker {
	return &rabbitBroker{client: client}
}

func (b *rabbitBroker) Name() string { return "rabbitmq" }

func (b *rabbitBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}

func (b *rabbitBroker) Publish(ctx context.Context, msg brokerMessage) error {
	if msg.Topic == "" && msg.EventType == "" {
		return registry.NewNonRetryableError(errors.New("routing key is empty"))
	}
	return b.client.Publish(ctx, rabbitmq.RoutingKey(msg.Topic, msg.EventType), msg.Data, msg.Attributes)
}
