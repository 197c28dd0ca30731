package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/tableside-backend/api/responses"
	"github.com/angelmondragon/tableside-backend/api/validators"
	"github.com/angelmondragon/tableside-backend/internal/orders"
	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/logger"
)

type cartService interface {
	GetCart(ctx context.Context, sessionID uuid.UUID) (*models.Order, error)
	AddToCart(ctx context.Context, sessionID, productID uuid.UUID, qty int) (*models.Order, error)
	UpdateLineQuantity(ctx context.Context, lineID uuid.UUID, qty int) (*models.Order, error)
	RemoveLine(ctx context.Context, lineID uuid.UUID) (*models.Order, error)
}

type orderSender interface {
	SendSessionOrder(ctx context.Context, sessionID uuid.UUID, expected []orders.ExpectedLine) (*models.Order, error)
}

type addToCartRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity"`
}

type updateLineRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

type expectedLineRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity"`
}

type sendOrderRequest struct {
	Lines []expectedLineRequest `json:"lines" validate:"omitempty,dive"`
}

// CartFetch returns the session's pending order, or null when nothing has
// been added since the last send.
func CartFetch(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := validators.ParseUUIDParam(r, "sessionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.GetCart(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if order == nil {
			responses.WriteSuccess(w, nil)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

func CartAdd(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := validators.ParseUUIDParam(r, "sessionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload addToCartRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithSessionID(r.Context(), sessionID.String())
		order, err := svc.AddToCart(ctx, sessionID, payload.ProductID, payload.Quantity)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// CartLineUpdate sets a pending line's quantity; zero removes the line.
func CartLineUpdate(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lineID, err := validators.ParseUUIDParam(r, "lineId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateLineRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.UpdateLineQuantity(r.Context(), lineID, *payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

func CartLineRemove(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lineID, err := validators.ParseUUIDParam(r, "lineId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.RemoveLine(r.Context(), lineID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// OrderValidate sends the session's pending order to the kitchen. An
// optional lines list replaces the cart contents before stock is committed.
func OrderValidate(svc orderSender, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := validators.ParseUUIDParam(r, "sessionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload sendOrderRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		var expected []orders.ExpectedLine
		if payload.Lines != nil {
			expected = make([]orders.ExpectedLine, 0, len(payload.Lines))
			for _, line := range payload.Lines {
				expected = append(expected, orders.ExpectedLine{ProductID: line.ProductID, Quantity: line.Quantity})
			}
		}

		ctx := logg.WithSessionID(r.Context(), sessionID.String())
		order, err := svc.SendSessionOrder(ctx, sessionID, expected)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}
