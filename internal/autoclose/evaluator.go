package autoclose

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/internal/sessions"
	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableside-backend/pkg/errors"
	"github.com/angelmondragon/tableside-backend/pkg/logger"
)

type sessionCloser interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	CloseWhen(ctx context.Context, id uuid.UUID, reason enums.SessionCloseReason, guard sessions.CloseGuard) (bool, error)
}

// Evaluator closes sessions automatically once everything is served and paid.
type Evaluator struct {
	repo     Repository
	sessions sessionCloser
	logg     *logger.Logger
}

func NewEvaluator(repo Repository, sessions sessionCloser, logg *logger.Logger) (*Evaluator, error) {
	if repo == nil {
		return nil, fmt.Errorf("autoclose repository required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session closer required")
	}
	return &Evaluator{repo: repo, sessions: sessions, logg: logg}, nil
}

// CanClose reports whether the session satisfies the close policy.
func (e *Evaluator) CanClose(ctx context.Context, sessionID uuid.UUID) (Decision, error) {
	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return Decision{}, err
	}
	if session.Status != enums.SessionStatusOpen {
		return Decision{Reason: ReasonSessionClosed}, nil
	}
	return e.decide(ctx, e.repo, sessionID)
}

func (e *Evaluator) decide(ctx context.Context, repo Repository, sessionID uuid.UUID) (Decision, error) {
	orders, err := repo.SessionOrders(ctx, sessionID)
	if err != nil {
		return Decision{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load session orders")
	}
	payments, err := repo.SessionPayments(ctx, sessionID)
	if err != nil {
		return Decision{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load session payments")
	}
	return Decide(orders, payments), nil
}

// Evaluate closes the session with reason auto when the close policy allows
// it. The policy runs on a snapshot read under the session lock, inside the
// same transaction as the close. An already closed session reports false.
func (e *Evaluator) Evaluate(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	var decision Decision
	closed, err := e.sessions.CloseWhen(ctx, sessionID, enums.SessionCloseAuto, func(ctx context.Context, tx *gorm.DB) (bool, error) {
		d, err := e.decide(ctx, e.repo.WithTx(tx), sessionID)
		if err != nil {
			return false, err
		}
		decision = d
		return d.CanClose, nil
	})
	if err != nil {
		return false, err
	}
	if !closed && decision.Reason != "" && e.logg != nil {
		logCtx := e.logg.WithSessionID(ctx, sessionID.String())
		e.logg.Debug(e.logg.WithField(logCtx, "reason", decision.Reason), "session kept open")
	}
	return closed, nil
}

// SweepCandidates lists open sessions that may have become closable without
// an evaluation firing, such as after a failed post-validation step. Pass the
// last id of the previous page as after to continue.
func (e *Evaluator) SweepCandidates(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	ids, err := e.repo.SessionsWithSettledPayments(ctx, after, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sweep candidates")
	}
	return ids, nil
}
