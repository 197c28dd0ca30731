package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateSession OutboxAggregateType = "session"
	AggregateOrder   OutboxAggregateType = "order"
	AggregatePayment OutboxAggregateType = "payment"
	AggregateInvoice OutboxAggregateType = "invoice"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateSession,
	AggregateOrder,
	AggregatePayment,
	AggregateInvoice,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventSessionOpened         OutboxEventType = "session_opened"
	EventSessionClosed         OutboxEventType = "session_closed"
	EventOrderSent             OutboxEventType = "order_sent"
	EventOrderStatusChanged    OutboxEventType = "order_status_changed"
	EventLinePrepStatusChanged OutboxEventType = "line_prep_status_changed"
	EventPaymentCreated        OutboxEventType = "payment_created"
	EventPaymentValidated      OutboxEventType = "payment_validated"
	EventPaymentArchived       OutboxEventType = "payment_archived"
	EventInvoiceGenerated      OutboxEventType = "invoice_generated"
)

var validOutboxEventTypes = []OutboxEventType{
	EventSessionOpened,
	EventSessionClosed,
	EventOrderSent,
	EventOrderStatusChanged,
	EventLinePrepStatusChanged,
	EventPaymentCreated,
	EventPaymentValidated,
	EventPaymentArchived,
	EventInvoiceGenerated,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
