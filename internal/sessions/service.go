package sessions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/pkg/db"
	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableside-backend/pkg/errors"
	"github.com/angelmondragon/tableside-backend/pkg/logger"
	"github.com/angelmondragon/tableside-backend/pkg/metrics"
	"github.com/angelmondragon/tableside-backend/pkg/outbox"
	"github.com/angelmondragon/tableside-backend/pkg/outbox/payloads"
)

const uxOpenSessionPerTable = "ux_sessions_open_table"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type tableLookup interface {
	GetTable(ctx context.Context, id uuid.UUID) (*models.Table, error)
	GetTableByCode(ctx context.Context, code string) (*models.Table, error)
}

// Service owns the lifetime of table sessions.
type Service interface {
	OpenSession(ctx context.Context, tableID uuid.UUID, clientName string) (*models.Session, error)
	OpenOrJoin(ctx context.Context, tableCode, clientName string) (*OpenResult, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	HasOpenSession(ctx context.Context, tableID uuid.UUID) (bool, error)
	CloseSession(ctx context.Context, id uuid.UUID, reason enums.SessionCloseReason) (*models.Session, error)
	CloseIfOpen(ctx context.Context, id uuid.UUID, reason enums.SessionCloseReason) (bool, error)
	CloseWhen(ctx context.Context, id uuid.UUID, reason enums.SessionCloseReason, guard CloseGuard) (bool, error)
	LockOpen(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Session, error)
	ListOpenIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// CloseGuard runs inside the close transaction while the session row is
// locked. Returning false keeps the session open.
type CloseGuard func(ctx context.Context, tx *gorm.DB) (bool, error)

// OpenResult reports whether the caller joined an existing session.
type OpenResult struct {
	Session *models.Session
	Joined  bool
}

type ServiceParams struct {
	Repo    Repository
	Tables  tableLookup
	Tx      txRunner
	Outbox  outboxPublisher
	Metrics *metrics.LifecycleMetrics
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	repo    Repository
	tables  tableLookup
	tx      txRunner
	outbox  outboxPublisher
	metrics *metrics.LifecycleMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds the session service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("sessions repository required")
	}
	if params.Tables == nil {
		return nil, fmt.Errorf("table lookup required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:    params.Repo,
		tables:  params.Tables,
		tx:      params.Tx,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     now,
	}, nil
}

func sessionNotFound() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "session not found")
}

func sessionClosed() error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "session is closed").
		WithReason(pkgerrors.ReasonSessionClosed)
}

func tableOccupied() error {
	return pkgerrors.New(pkgerrors.CodeConflict, "table already has an open session").
		WithReason(pkgerrors.ReasonTableOccupied)
}

func (s *service) OpenSession(ctx context.Context, tableID uuid.UUID, clientName string) (*models.Session, error) {
	name := strings.TrimSpace(clientName)
	if tableID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "table id is required")
	}
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "client name is required")
	}

	table, err := s.tables.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if !table.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "table is not active").
			WithReason(pkgerrors.ReasonTableInactive)
	}

	var session *models.Session
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindOpenByTable(ctx, tableID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check table occupancy")
		}
		if existing != nil {
			return tableOccupied()
		}

		client := &models.Client{Name: name}
		if err := repo.CreateClient(ctx, client); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create client")
		}
		created := &models.Session{
			TableID:  tableID,
			ClientID: client.ID,
			Status:   enums.SessionStatusOpen,
			OpenedAt: s.now(),
		}
		if err := repo.CreateSession(ctx, created); err != nil {
			if db.IsUniqueViolation(err, uxOpenSessionPerTable) {
				return tableOccupied()
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create session")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventSessionOpened,
			AggregateType: enums.AggregateSession,
			AggregateID:   created.ID,
			SessionID:     created.ID,
			Data: payloads.SessionOpenedEvent{
				SessionID: created.ID,
				TableID:   tableID,
				ClientID:  client.ID,
				OpenedAt:  created.OpenedAt,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit session opened")
		}
		session = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.SessionOpened()
	if s.logg != nil {
		logCtx := s.logg.WithSessionID(ctx, session.ID.String())
		s.logg.Info(s.logg.WithField(logCtx, "table_id", tableID.String()), "session opened")
	}
	return session, nil
}

// OpenOrJoin resolves the scanned table code and either joins the open
// session or opens a new one. Losing the open race falls back to joining.
func (s *service) OpenOrJoin(ctx context.Context, tableCode, clientName string) (*OpenResult, error) {
	code := strings.TrimSpace(tableCode)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "table code is required")
	}
	table, err := s.tables.GetTableByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindOpenByTable(ctx, table.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check table occupancy")
	}
	if existing != nil {
		return &OpenResult{Session: existing, Joined: true}, nil
	}

	session, err := s.OpenSession(ctx, table.ID, clientName)
	if err == nil {
		return &OpenResult{Session: session}, nil
	}
	if !pkgerrors.HasReason(err, pkgerrors.ReasonTableOccupied) {
		return nil, err
	}
	winner, findErr := s.repo.FindOpenByTable(ctx, table.ID)
	if findErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "reload open session")
	}
	if winner == nil {
		return nil, err
	}
	return &OpenResult{Session: winner, Joined: true}, nil
}

func (s *service) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load session")
	}
	if session == nil {
		return nil, sessionNotFound()
	}
	return session, nil
}

// LockOpen locks the session row inside tx and fails with SessionClosed
// unless it is still open. The lock is held until tx ends, so a concurrent
// close waits for the caller's writes and then sees them.
func (s *service) LockOpen(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Session, error) {
	session, err := s.repo.WithTx(tx).LockByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock session")
	}
	if session == nil {
		return nil, sessionNotFound()
	}
	if session.Status != enums.SessionStatusOpen {
		return nil, sessionClosed()
	}
	return session, nil
}

func (s *service) HasOpenSession(ctx context.Context, tableID uuid.UUID) (bool, error) {
	session, err := s.repo.FindOpenByTable(ctx, tableID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check table occupancy")
	}
	return session != nil, nil
}

// CloseSession is the staff-facing close; a second close surfaces AlreadyClosed.
func (s *service) CloseSession(ctx context.Context, id uuid.UUID, reason enums.SessionCloseReason) (*models.Session, error) {
	if !reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid close reason")
	}
	closed, err := s.close(ctx, id, reason, nil)
	if err != nil {
		return nil, err
	}
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !closed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "session already closed").
			WithReason(pkgerrors.ReasonAlreadyClosed)
	}
	return session, nil
}

// CloseIfOpen is the internal close used by auto-close. Closing an already
// closed session is a no-op that reports false.
func (s *service) CloseIfOpen(ctx context.Context, id uuid.UUID, reason enums.SessionCloseReason) (bool, error) {
	return s.close(ctx, id, reason, nil)
}

// CloseWhen closes the session only if guard approves it while the session
// row is locked. Cart and payment writers take the same lock, so nothing can
// land between the guard's reads and the close.
func (s *service) CloseWhen(ctx context.Context, id uuid.UUID, reason enums.SessionCloseReason, guard CloseGuard) (bool, error) {
	return s.close(ctx, id, reason, guard)
}

func (s *service) close(ctx context.Context, id uuid.UUID, reason enums.SessionCloseReason, guard CloseGuard) (bool, error) {
	closed := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		session, err := repo.LockByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock session")
		}
		if session == nil {
			return sessionNotFound()
		}
		if session.Status != enums.SessionStatusOpen {
			return nil
		}
		if guard != nil {
			ok, err := guard(ctx, tx)
			if err != nil || !ok {
				return err
			}
		}
		if _, err := repo.DiscardEmptyCarts(ctx, id); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "discard empty carts")
		}
		closedAt := s.now()
		ok, err := repo.CloseIfOpen(ctx, id, reason, closedAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close session")
		}
		if !ok {
			return nil
		}
		closed = true
		event := outbox.DomainEvent{
			EventType:     enums.EventSessionClosed,
			AggregateType: enums.AggregateSession,
			AggregateID:   id,
			SessionID:     id,
			Data: payloads.SessionClosedEvent{
				SessionID: id,
				TableID:   session.TableID,
				Reason:    reason,
				ClosedAt:  closedAt,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit session closed")
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if closed {
		s.metrics.SessionClosed(string(reason))
		if s.logg != nil {
			logCtx := s.logg.WithSessionID(ctx, id.String())
			s.logg.Info(s.logg.WithField(logCtx, "reason", string(reason)), "session closed")
		}
	}
	return closed, nil
}

func (s *service) ListOpenIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	ids, err := s.repo.ListOpenIDs(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list open sessions")
	}
	return ids, nil
}
