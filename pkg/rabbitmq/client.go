package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/angelmondragon/tableside-backend/pkg/config"
	"github.com/angelmondragon/tableside-backend/pkg/logger"
)

const exchangeKindTopic = "topic"

// channel is the subset of *amqp.Channel the client relies on.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Client publishes lifecycle events to a durable topic exchange with
// publisher confirms enabled.
type Client struct {
	conn     *amqp.Connection
	ch       channel
	acks     <-chan amqp.Confirmation
	exchange string
	mu       sync.Mutex
}

// Dial connects, declares the exchange and switches the channel to confirm mode.
func Dial(ctx context.Context, cfg config.RabbitMQConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if strings.TrimSpace(cfg.Exchange) == "" {
		return nil, errors.New("rabbitmq exchange is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, exchangeKindTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	if logg != nil {
		logg.Info(ctx, "rabbitmq client initialized")
	}
	return &Client{conn: conn, ch: ch, acks: acks, exchange: cfg.Exchange}, nil
}

// Publish sends a persistent JSON message and waits for the broker ack.
// Calls are serialized so confirmations line up with publishes.
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte, headers map[string]string) error {
	if c == nil || c.ch == nil {
		return errors.New("rabbitmq client not initialized")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}
	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Headers:      table,
		Body:         body,
	}
	if id, ok := headers["event_id"]; ok {
		msg.MessageId = id
	}
	if err := c.ch.PublishWithContext(ctx, c.exchange, routingKey, false, false, msg); err != nil {
		return err
	}

	select {
	case conf, ok := <-c.acks:
		if !ok {
			return errors.New("rabbitmq confirm channel closed")
		}
		if conf.Ack {
			return nil
		}
		return errors.New("publish NACK from broker")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping reports whether the connection is still open.
func (c *Client) Ping(context.Context) error {
	if c == nil || c.conn == nil || c.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// Close releases the channel and connection.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.ch != nil {
		errs = append(errs, c.ch.Close())
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}

// RoutingKey builds the `<topic>.<event_type>` key used for bindings.
func RoutingKey(topic, eventType string) string {
	topic = strings.TrimSpace(topic)
	eventType = strings.TrimSpace(eventType)
	if topic == "" {
		return eventType
	}
	if eventType == "" {
		return topic
	}
	return topic + "." + eventType
}
