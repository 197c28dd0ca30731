package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/tableside-backend/api/responses"
	"github.com/angelmondragon/tableside-backend/api/validators"
	"github.com/angelmondragon/tableside-backend/internal/invoices"
	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tableside-backend/pkg/errors"
	"github.com/angelmondragon/tableside-backend/pkg/logger"
	"github.com/angelmondragon/tableside-backend/pkg/pagination"
)

type invoiceService interface {
	Generate(ctx context.Context, orderID uuid.UUID) (*models.Invoice, bool, error)
	GetByNumber(ctx context.Context, number string) (*models.Invoice, error)
	Search(ctx context.Context, filters invoices.SearchFilters, params pagination.Params) (*pagination.Page[models.Invoice], error)
}

// OrderInvoice returns the order's invoice, generating it on first request.
// Concurrent callers all receive the same invoice number.
func OrderInvoice(svc invoiceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithOrderID(r.Context(), orderID.String())
		invoice, created, err := svc.Generate(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, newInvoiceResponse(invoice))
	}
}

func InvoiceByNumber(svc invoiceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number := strings.TrimSpace(chi.URLParam(r, "number"))
		if number == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invoice number required"))
			return
		}

		invoice, err := svc.GetByNumber(r.Context(), number)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newInvoiceResponse(invoice))
	}
}

// InvoiceSearch lists invoices newest first. Supported filters: from, to,
// session_id, table_id, min_total_cents, number (prefix), limit, cursor.
func InvoiceSearch(svc invoiceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters, params, err := parseInvoiceSearch(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.Search(r.Context(), filters, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newInvoicePageResponse(page))
	}
}

func parseInvoiceSearch(r *http.Request) (invoices.SearchFilters, pagination.Params, error) {
	var (
		filters invoices.SearchFilters
		params  pagination.Params
		err     error
	)
	if filters.From, err = validators.ParseQueryTime(r, "from"); err != nil {
		return filters, params, err
	}
	if filters.To, err = validators.ParseQueryTime(r, "to"); err != nil {
		return filters, params, err
	}
	if filters.From != nil && filters.To != nil && filters.To.Before(*filters.From) {
		return filters, params, pkgerrors.New(pkgerrors.CodeValidation, "to must not be before from")
	}
	if filters.SessionID, err = validators.ParseQueryUUID(r, "session_id"); err != nil {
		return filters, params, err
	}
	if filters.TableID, err = validators.ParseQueryUUID(r, "table_id"); err != nil {
		return filters, params, err
	}
	if r.URL.Query().Get("min_total_cents") != "" {
		minTotal, err := validators.ParseQueryInt(r, "min_total_cents", 0, 0, 1<<31-1)
		if err != nil {
			return filters, params, err
		}
		filters.MinTotalCents = &minTotal
	}
	filters.NumberPrefix = strings.TrimSpace(r.URL.Query().Get("number"))

	if params.Limit, err = validators.ParseQueryInt(r, "limit", 25, 1, 100); err != nil {
		return filters, params, err
	}
	params.Cursor = strings.TrimSpace(r.URL.Query().Get("cursor"))
	return filters, params, nil
}
