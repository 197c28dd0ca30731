package settlement

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableside-backend/pkg/errors"
	"github.com/angelmondragon/tableside-backend/pkg/logger"
	"github.com/angelmondragon/tableside-backend/pkg/outbox"
	"github.com/angelmondragon/tableside-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/tableside-backend/pkg/outbox/payloads"
)

const consumerName = "billing-settlement"

type messageSource interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type invoiceGenerator interface {
	Generate(ctx context.Context, orderID uuid.UUID) (*models.Invoice, bool, error)
}

type sessionEvaluator interface {
	Evaluate(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

// Consumer reacts to payment_validated events from the billing subscription.
// It makes sure the order has its invoice and re-runs the auto-close check,
// covering validations whose in-request follow-up failed after commit.
type Consumer struct {
	source      messageSource
	invoices    invoiceGenerator
	evaluator   sessionEvaluator
	idempotency *idempotency.Manager
	logg        *logger.Logger
}

type ConsumerParams struct {
	Source      messageSource
	Invoices    invoiceGenerator
	Evaluator   sessionEvaluator
	Idempotency *idempotency.Manager
	Logger      *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Source == nil {
		return nil, fmt.Errorf("billing subscription required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice generator required")
	}
	if params.Evaluator == nil {
		return nil, fmt.Errorf("autoclose evaluator required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		source:      params.Source,
		invoices:    params.Invoices,
		evaluator:   params.Evaluator,
		idempotency: params.Idempotency,
		logg:        params.Logger,
	}, nil
}

// Run blocks receiving messages until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.source.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.ID, msg.Attributes, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process returns true when the message should be acked.
func (c *Consumer) process(ctx context.Context, messageID string, attrs map[string]string, data []byte) bool {
	eventType := attrs["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
		"consumer":   consumerName,
	})

	if eventType != string(enums.EventPaymentValidated) {
		return true
	}

	envelope, eventID, err := outbox.DecodeEnvelope(data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return true
	}
	if envelope.SessionID != nil {
		logCtx = c.logg.WithSessionID(logCtx, envelope.SessionID.String())
	}

	claimed, err := c.idempotency.Claim(ctx, consumerName, enums.EventPaymentValidated, eventID, messageID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return false
	}
	if !claimed {
		if holder, err := c.idempotency.ClaimedBy(ctx, consumerName, enums.EventPaymentValidated, eventID); err == nil && holder != "" {
			logCtx = c.logg.WithField(logCtx, "claimed_by", holder)
		}
		c.logg.Info(logCtx, "event already processed")
		return true
	}

	var payload payloads.PaymentValidatedEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		// a malformed payload will not improve on redelivery
		c.logg.Error(logCtx, "failed to parse payment payload", err)
		return true
	}
	if payload.OrderID == uuid.Nil {
		c.logg.Warn(logCtx, "payment payload missing order id")
		return true
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"payment_id": payload.PaymentID.String(),
		"order_id":   payload.OrderID.String(),
	})

	if err := c.settle(logCtx, payload.OrderID); err != nil {
		c.logg.Error(logCtx, "settlement follow-up failed", err)
		if typed := pkgerrors.As(err); typed != nil && !typed.Retryable() {
			return true
		}
		_ = c.idempotency.Release(ctx, consumerName, enums.EventPaymentValidated, eventID)
		return false
	}
	return true
}

func (c *Consumer) settle(ctx context.Context, orderID uuid.UUID) error {
	invoice, created, err := c.invoices.Generate(ctx, orderID)
	if err != nil {
		return fmt.Errorf("generate invoice: %w", err)
	}
	if created {
		c.logg.Info(c.logg.WithField(ctx, "invoice_number", invoice.Number), "invoice archived from billing event")
	}
	closed, err := c.evaluator.Evaluate(ctx, invoice.SessionID)
	if err != nil {
		return fmt.Errorf("evaluate session %s: %w", invoice.SessionID, err)
	}
	if closed {
		c.logg.Info(c.logg.WithField(ctx, "session_id", invoice.SessionID.String()), "session auto-closed from billing event")
	}
	return nil
}
