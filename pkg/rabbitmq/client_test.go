package rabbitmq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tableside-backend/pkg/config"
)

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	err       error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _ string, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func newTestClient(ch *fakeChannel, ack bool) *Client {
	acks := make(chan amqp.Confirmation, 1)
	acks <- amqp.Confirmation{DeliveryTag: 1, Ack: ack}
	return &Client{ch: ch, acks: acks, exchange: "tableside_events"}
}

func TestPublishWaitsForAck(t *testing.T) {
	ch := &fakeChannel{}
	client := newTestClient(ch, true)

	err := client.Publish(context.Background(), "ts-billing-events.payment_validated", []byte(`{}`), map[string]string{"event_id": "evt-1"})
	require.NoError(t, err)
	require.Len(t, ch.published, 1)
	require.Equal(t, "ts-billing-events.payment_validated", ch.keys[0])
	msg := ch.published[0]
	require.Equal(t, amqp.Persistent, msg.DeliveryMode)
	require.Equal(t, "evt-1", msg.MessageId)
	require.Equal(t, "application/json", msg.ContentType)
}

func TestPublishNackIsError(t *testing.T) {
	client := newTestClient(&fakeChannel{}, false)
	err := client.Publish(context.Background(), "k", []byte(`{}`), nil)
	require.Error(t, err)
}

func TestPublishChannelError(t *testing.T) {
	client := newTestClient(&fakeChannel{err: errors.New("channel closed")}, true)
	err := client.Publish(context.Background(), "k", []byte(`{}`), nil)
	require.EqualError(t, err, "channel closed")
}

func TestPublishHonorsContext(t *testing.T) {
	client := &Client{ch: &fakeChannel{}, acks: make(chan amqp.Confirmation), exchange: "x"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := client.Publish(ctx, "k", []byte(`{}`), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDialValidatesConfig(t *testing.T) {
	_, err := Dial(context.Background(), config.RabbitMQConfig{Exchange: "x"}, nil)
	require.Error(t, err)
	_, err = Dial(context.Background(), config.RabbitMQConfig{URL: "amqp://localhost"}, nil)
	require.Error(t, err)
}

func TestRoutingKey(t *testing.T) {
	require.Equal(t, "orders.session_opened", RoutingKey("orders", "session_opened"))
	require.Equal(t, "orders", RoutingKey("orders", ""))
	require.Equal(t, "session_opened", RoutingKey(" ", "session_opened"))
}

func TestNilClient(t *testing.T) {
	var c *Client
	require.Error(t, c.Ping(context.Background()))
	require.NoError(t, c.Close())
	require.Error(t, c.Publish(context.Background(), "k", nil, nil))
}
