package registry

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/angelmondragon/tableside-backend/pkg/config"
	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
	"github.com/angelmondragon/tableside-backend/pkg/outbox"
	"github.com/angelmondragon/tableside-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

// EventDescriptor links an event type to its aggregate/topic/payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

// Error implements error.
func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewEventRegistry builds the registry with the configured topic names.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.OrdersTopic == "" {
		return nil, fmt.Errorf("orders topic is required")
	}
	if cfg.KitchenTopic == "" {
		return nil, fmt.Errorf("kitchen topic is required")
	}
	if cfg.BillingTopic == "" {
		return nil, fmt.Errorf("billing topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	ordersTopic := cfg.OrdersTopic
	kitchenTopic := cfg.KitchenTopic
	billingTopic := cfg.BillingTopic

	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventSessionOpened,
			AggregateType:  enums.AggregateSession,
			Topic:          ordersTopic,
			PayloadFactory: func() interface{} { return &payloads.SessionOpenedEvent{} },
		},
		{
			EventType:      enums.EventSessionClosed,
			AggregateType:  enums.AggregateSession,
			Topic:          ordersTopic,
			PayloadFactory: func() interface{} { return &payloads.SessionClosedEvent{} },
		},
		{
			EventType:      enums.EventOrderStatusChanged,
			AggregateType:  enums.AggregateOrder,
			Topic:          ordersTopic,
			PayloadFactory: func() interface{} { return &payloads.OrderStatusChangedEvent{} },
		},
	} {
		reg.register(desc)
	}
	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventOrderSent,
			AggregateType:  enums.AggregateOrder,
			Topic:          kitchenTopic,
			PayloadFactory: func() interface{} { return &payloads.OrderSentEvent{} },
		},
		{
			EventType:      enums.EventLinePrepStatusChanged,
			AggregateType:  enums.AggregateOrder,
			Topic:          kitchenTopic,
			PayloadFactory: func() interface{} { return &payloads.LinePrepStatusChangedEvent{} },
		},
	} {
		reg.register(desc)
	}
	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventPaymentCreated,
			AggregateType:  enums.AggregatePayment,
			Topic:          billingTopic,
			PayloadFactory: func() interface{} { return &payloads.PaymentCreatedEvent{} },
		},
		{
			EventType:      enums.EventPaymentValidated,
			AggregateType:  enums.AggregatePayment,
			Topic:          billingTopic,
			PayloadFactory: func() interface{} { return &payloads.PaymentValidatedEvent{} },
		},
		{
			EventType:      enums.EventPaymentArchived,
			AggregateType:  enums.AggregatePayment,
			Topic:          billingTopic,
			PayloadFactory: func() interface{} { return &payloads.PaymentArchivedEvent{} },
		},
		{
			EventType:      enums.EventInvoiceGenerated,
			AggregateType:  enums.AggregateInvoice,
			Topic:          billingTopic,
			PayloadFactory: func() interface{} { return &payloads.InvoiceGeneratedEvent{} },
		},
	} {
		reg.register(desc)
	}

	return reg, nil
}

// Topics lists the distinct destinations so publishers can be primed up front.
func (r *EventRegistry) Topics() []string {
	seen := make(map[string]struct{})
	var topics []string
	for _, desc := range r.entries {
		if _, ok := seen[desc.Topic]; ok {
			continue
		}
		seen[desc.Topic] = struct{}{}
		topics = append(topics, desc.Topic)
	}
	sort.Strings(topics)
	return topics
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, _, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}

	payload := desc.PayloadFactory()
	if payload == nil {
		return nil, NewNonRetryableError(fmt.Errorf("payload factory not configured for %s", event.EventType))
	}
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}
