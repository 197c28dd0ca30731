package outbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tableside-backend/internal/testdb"
	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
)

func parkedOrderEvent(reason enums.OutboxDLQErrorReason, failedAt time.Time) models.OutboxDLQ {
	msg := strings.Repeat("x", maxDLQErrorLen+10)
	return models.OutboxDLQ{
		EventID:       uuid.New(),
		EventType:     enums.EventOrderSent,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{"order_id":"x"}`),
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		FailedAt:      failedAt,
	}
}

func TestDLQRepositoryParksEventOnce(t *testing.T) {
	conn := testdb.New(t)
	repo := NewDLQRepository(conn)
	entry := parkedOrderEvent(enums.OutboxDLQReasonUnroutable, time.Now().UTC())

	require.NoError(t, repo.InsertTx(conn, entry))
	require.NoError(t, repo.InsertTx(conn, entry))

	var rows []models.OutboxDLQ
	require.NoError(t, conn.Where("event_id = ?", entry.EventID).Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Len(t, *rows[0].ErrorMessage, maxDLQErrorLen)
	require.Equal(t, enums.OutboxDLQReasonUnroutable, rows[0].ErrorReason)
}

func TestDLQRepositoryRejectsUnknownReason(t *testing.T) {
	conn := testdb.New(t)
	repo := NewDLQRepository(conn)
	require.Error(t, repo.InsertTx(conn, parkedOrderEvent("non_retryable", time.Now().UTC())))
	require.Error(t, repo.InsertTx(nil, parkedOrderEvent(enums.OutboxDLQReasonMaxAttempts, time.Now().UTC())))
}

func TestDLQRepositoryPurgeBefore(t *testing.T) {
	conn := testdb.New(t)
	repo := NewDLQRepository(conn)
	now := time.Now().UTC()
	old := parkedOrderEvent(enums.OutboxDLQReasonMaxAttempts, now.Add(-100*24*time.Hour))
	recent := parkedOrderEvent(enums.OutboxDLQReasonUnresolvable, now.Add(-time.Hour))
	require.NoError(t, repo.InsertTx(conn, old))
	require.NoError(t, repo.InsertTx(conn, recent))

	deleted, err := repo.PurgeBefore(context.Background(), nil, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	var left []models.OutboxDLQ
	require.NoError(t, conn.Find(&left).Error)
	require.Len(t, left, 1)
	require.Equal(t, recent.EventID, left[0].EventID)
}
