package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/tableside-backend/api/responses"
	"github.com/angelmondragon/tableside-backend/api/validators"
	"github.com/angelmondragon/tableside-backend/internal/autoclose"
	"github.com/angelmondragon/tableside-backend/internal/sessions"
	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableside-backend/pkg/errors"
	"github.com/angelmondragon/tableside-backend/pkg/logger"
)

type sessionOpener interface {
	OpenOrJoin(ctx context.Context, tableCode, clientName string) (*sessions.OpenResult, error)
}

type sessionReader interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

type sessionCloser interface {
	CloseSession(ctx context.Context, id uuid.UUID, reason enums.SessionCloseReason) (*models.Session, error)
}

type sessionOrderLister interface {
	ListSessionOrders(ctx context.Context, sessionID uuid.UUID) ([]models.Order, error)
}

type closePolicy interface {
	CanClose(ctx context.Context, sessionID uuid.UUID) (autoclose.Decision, error)
}

type openSessionRequest struct {
	ClientName string `json:"client_name" validate:"max=80"`
}

// SessionOpen opens a session for the scanned table or joins the one
// already running there.
func SessionOpen(svc sessionOpener, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimSpace(chi.URLParam(r, "code"))
		if code == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "table code required"))
			return
		}

		var payload openSessionRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		result, err := svc.OpenOrJoin(r.Context(), code, strings.TrimSpace(payload.ClientName))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Joined {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, openSessionResponse{
			Session: newSessionResponse(result.Session),
			Joined:  result.Joined,
		})
	}
}

// SessionDetail returns the session with every order round and whether it
// could close right now.
func SessionDetail(svc sessionReader, orders sessionOrderLister, policy closePolicy, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := validators.ParseUUIDParam(r, "sessionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.GetSession(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := orders.ListSessionOrders(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := sessionDetailResponse{
			Session: newSessionResponse(session),
			Orders:  make([]orderResponse, 0, len(list)),
		}
		for i := range list {
			resp.Orders = append(resp.Orders, newOrderResponse(&list[i]))
			if list[i].Status != enums.OrderStatusCancelled {
				resp.TotalCents += list[i].TotalCents()
			}
		}
		if policy != nil && session.Status == enums.SessionStatusOpen {
			decision, err := policy.CanClose(r.Context(), sessionID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			resp.CloseStatus = &decision
		}

		responses.WriteSuccess(w, resp)
	}
}

// SessionClose closes a session on staff request regardless of balance.
func SessionClose(svc sessionCloser, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := validators.ParseUUIDParam(r, "sessionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.CloseSession(r.Context(), sessionID, enums.SessionCloseManual)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSessionResponse(session))
	}
}
