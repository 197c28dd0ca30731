package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/tableside-backend/api/controllers"
	"github.com/angelmondragon/tableside-backend/api/middleware"
	"github.com/angelmondragon/tableside-backend/internal/autoclose"
	"github.com/angelmondragon/tableside-backend/internal/invoices"
	"github.com/angelmondragon/tableside-backend/internal/kitchen"
	"github.com/angelmondragon/tableside-backend/internal/orders"
	"github.com/angelmondragon/tableside-backend/internal/payments"
	"github.com/angelmondragon/tableside-backend/internal/sessions"
	"github.com/angelmondragon/tableside-backend/pkg/config"
	"github.com/angelmondragon/tableside-backend/pkg/db"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
	"github.com/angelmondragon/tableside-backend/pkg/logger"
	"github.com/angelmondragon/tableside-backend/pkg/redis"
)

type rateCounter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	sessionService sessions.Service,
	ordersService orders.Service,
	kitchenService kitchen.Service,
	paymentsService payments.Service,
	invoicesService invoices.Service,
	closeEvaluator *autoclose.Evaluator,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	// keep typed nils out of the interfaces so the middleware can skip Redis
	var (
		redisPinger      redis.Pinger
		idempotencyStore redis.IdempotencyStore
		rateStore        rateCounter
	)
	if redisClient != nil {
		redisPinger = redisClient
		idempotencyStore = redisClient
		rateStore = redisClient
	}
	idempotent := middleware.Idempotency(idempotencyStore, cfg.Payments.IdempotencyKeyTTL, logg)
	validateCodePolicy := middleware.NewRateLimitPolicy(
		"validate-code",
		cfg.Payments.ValidateWindow,
		cfg.Payments.ValidateIPLimit,
		cfg.Payments.ValidateStaffLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisPinger))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// diner surface: the table code and session id are the credentials
	r.Group(func(r chi.Router) {
		r.Post("/table/{code}/session", controllers.SessionOpen(sessionService, logg))

		r.Route("/session/{sessionId}", func(r chi.Router) {
			r.Get("/", controllers.SessionDetail(sessionService, ordersService, closeEvaluator, logg))
			r.Get("/cart", controllers.CartFetch(ordersService, logg))
			r.Post("/cart", controllers.CartAdd(ordersService, logg))
			r.With(idempotent).Post("/order/validate", controllers.OrderValidate(ordersService, logg))
			r.With(idempotent).Post("/payment", controllers.PaymentCreate(paymentsService, logg))
			r.Get("/payments", controllers.SessionPayments(paymentsService, logg))
			r.With(
				middleware.Auth(cfg.JWT, logg),
				middleware.RequireRole(logg, enums.StaffRoleWaiter, enums.StaffRoleCashier),
			).Post("/close", controllers.SessionClose(sessionService, logg))
		})

		r.Put("/cart/{lineId}", controllers.CartLineUpdate(ordersService, logg))
		r.Delete("/cart/{lineId}", controllers.CartLineRemove(ordersService, logg))
		r.Get("/payment/{paymentId}", controllers.PaymentDetail(paymentsService, logg))
		r.Get("/order/{orderId}/invoice", controllers.OrderInvoice(invoicesService, logg))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.StaffRoleKitchen))
			r.Put("/kitchen/line/{lineId}/status", controllers.KitchenLineStatus(kitchenService, logg))
			r.Get("/kitchen/queue", controllers.KitchenQueue(kitchenService, logg))
		})

		r.With(middleware.RequireRole(logg, enums.StaffRoleKitchen, enums.StaffRoleWaiter)).
			Put("/order/{orderId}/served", controllers.OrderServed(ordersService, logg))
		r.With(middleware.RequireRole(logg, enums.StaffRoleWaiter, enums.StaffRoleCashier)).
			Put("/order/{orderId}/cancel", controllers.OrderCancel(ordersService, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.StaffRoleCashier))
			r.With(middleware.RateLimit(validateCodePolicy, rateStore, logg), idempotent).
				Post("/payment/validate-code", controllers.PaymentValidateCode(paymentsService, logg))
			r.Put("/payment/{paymentId}/validate", controllers.PaymentValidate(paymentsService, logg))
			r.Put("/payment/{paymentId}/archive", controllers.PaymentArchive(paymentsService, logg))
			r.Get("/invoice/search", controllers.InvoiceSearch(invoicesService, logg))
			r.Get("/invoice/{number}", controllers.InvoiceByNumber(invoicesService, logg))
		})
	})

	return r
}
