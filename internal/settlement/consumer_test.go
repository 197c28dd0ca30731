package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableside-backend/pkg/errors"
	"github.com/angelmondragon/tableside-backend/pkg/logger"
	"github.com/angelmondragon/tableside-backend/pkg/outbox"
	"github.com/angelmondragon/tableside-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/tableside-backend/pkg/outbox/payloads"
)

type fakeSource struct{}

func (fakeSource) Receive(context.Context, func(context.Context, *pubsub.Message)) error {
	return nil
}

type memoryStore struct {
	keys map[string]bool
}

func (m *memoryStore) Get(context.Context, string) (string, error) { return "", nil }

func (m *memoryStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "ts:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

type fakeInvoices struct {
	calls     []uuid.UUID
	sessionID uuid.UUID
	err       error
}

func (f *fakeInvoices) Generate(_ context.Context, orderID uuid.UUID) (*models.Invoice, bool, error) {
	f.calls = append(f.calls, orderID)
	if f.err != nil {
		return nil, false, f.err
	}
	return &models.Invoice{ID: uuid.New(), OrderID: orderID, SessionID: f.sessionID, Number: "INV-1"}, true, nil
}

type fakeEvaluator struct {
	sessions []uuid.UUID
}

func (f *fakeEvaluator) Evaluate(_ context.Context, sessionID uuid.UUID) (bool, error) {
	f.sessions = append(f.sessions, sessionID)
	return true, nil
}

type fixture struct {
	consumer  *Consumer
	store     *memoryStore
	invoices  *fakeInvoices
	evaluator *fakeEvaluator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := &memoryStore{keys: map[string]bool{}}
	manager, err := idempotency.NewManager(store, time.Hour)
	require.NoError(t, err)
	f := fixture{
		store:     store,
		invoices:  &fakeInvoices{sessionID: uuid.New()},
		evaluator: &fakeEvaluator{},
	}
	f.consumer, err = NewConsumer(ConsumerParams{
		Source:      fakeSource{},
		Invoices:    f.invoices,
		Evaluator:   f.evaluator,
		Idempotency: manager,
		Logger:      logger.New(logger.Options{ServiceName: "settlement-test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return f
}

func validatedMessage(t *testing.T, eventID, orderID uuid.UUID) []byte {
	t.Helper()
	data, err := json.Marshal(payloads.PaymentValidatedEvent{
		PaymentID:   uuid.New(),
		OrderID:     orderID,
		AmountCents: 6000,
		ValidatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	body, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	require.NoError(t, err)
	return body
}

func attrs(eventType enums.OutboxEventType) map[string]string {
	return map[string]string{"event_type": string(eventType)}
}

func TestProcessSettlesValidatedPaymentOnce(t *testing.T) {
	f := newFixture(t)
	orderID := uuid.New()
	body := validatedMessage(t, uuid.New(), orderID)

	require.True(t, f.consumer.process(context.Background(), "m-1", attrs(enums.EventPaymentValidated), body))
	require.True(t, f.consumer.process(context.Background(), "m-2", attrs(enums.EventPaymentValidated), body))

	require.Equal(t, []uuid.UUID{orderID}, f.invoices.calls)
	require.Equal(t, []uuid.UUID{f.invoices.sessionID}, f.evaluator.sessions)
}

func TestProcessSkipsOtherEvents(t *testing.T) {
	f := newFixture(t)

	ack := f.consumer.process(context.Background(), "m-1", attrs(enums.EventInvoiceGenerated), validatedMessage(t, uuid.New(), uuid.New()))

	require.True(t, ack)
	require.Empty(t, f.invoices.calls)
	require.Empty(t, f.store.keys)
}

func TestProcessAcksMalformedEnvelope(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.consumer.process(context.Background(), "m-1", attrs(enums.EventPaymentValidated), []byte("not-json")))
	require.Empty(t, f.invoices.calls)
}

func TestProcessNacksAndReleasesKeyOnTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.invoices.err = pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("db down"), "load order")
	body := validatedMessage(t, uuid.New(), uuid.New())

	require.False(t, f.consumer.process(context.Background(), "m-1", attrs(enums.EventPaymentValidated), body))
	require.Empty(t, f.store.keys)

	f.invoices.err = nil
	require.True(t, f.consumer.process(context.Background(), "m-1", attrs(enums.EventPaymentValidated), body))
	require.Len(t, f.evaluator.sessions, 1)
}

func TestProcessAcksPermanentFailure(t *testing.T) {
	f := newFixture(t)
	f.invoices.err = pkgerrors.New(pkgerrors.CodeStateConflict, "order has not been sent").
		WithReason(pkgerrors.ReasonOrderNotSent)

	ack := f.consumer.process(context.Background(), "m-1", attrs(enums.EventPaymentValidated), validatedMessage(t, uuid.New(), uuid.New()))

	require.True(t, ack)
	require.Empty(t, f.evaluator.sessions)
}
