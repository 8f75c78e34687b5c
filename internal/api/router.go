// Package api assembles the HTTP surface: routing, middleware, and handlers.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/nivant/tokensettle/internal/api/handler"
	"github.com/nivant/tokensettle/internal/api/middleware"
	"github.com/nivant/tokensettle/internal/api/spec"
	"github.com/nivant/tokensettle/internal/freeze"
	"github.com/nivant/tokensettle/internal/idempotency"
	"github.com/nivant/tokensettle/internal/settlement"
)

// Deps carries everything the router mounts. DB, Redis, and Idempotency may
// be nil in tests; the corresponding checks and middleware are then skipped.
type Deps struct {
	DB     *pgxpool.Pool
	Redis  redis.Cmdable
	Logger *zap.Logger

	Idempotency  *idempotency.Store
	Webhooks     *settlement.WebhookService
	Queries      *settlement.QueryService
	Orchestrator *settlement.Orchestrator
	Freezes      *freeze.Ledger

	PublicRateLimitRPS int
	AuthRateLimitRPS   int
}

type Router struct {
	deps Deps
}

func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = zap.L()
	}
	return &Router{deps: deps}
}

func (api *Router) Routes() chi.Router {
	d := api.deps

	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(d.Logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(d.Logger))

	healthHandler := handler.NewHealthHandler(d.DB, d.Redis)
	webhookHandler := handler.NewWebhookHandler(d.Webhooks)
	orderHandler := handler.NewOrderHandler(d.Queries, d.Orchestrator)
	freezeHandler := handler.NewFreezeHandler(d.Freezes)
	identityHandler := handler.NewIdentityHandler(d.Queries)

	idem := func(next http.Handler) http.Handler { return next }
	if d.Idempotency != nil {
		idem = middleware.IdempotencyMiddleware(d.Idempotency, d.Logger)
	}

	// Public surface
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// The processor authenticates with an HMAC signature, not a bearer token.
	r.With(middleware.PublicRateLimiter(d.PublicRateLimitRPS)).
		Post("/webhooks/payment", webhookHandler.HandlePaymentWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(d.AuthRateLimitRPS))

		r.Route("/orders/{orderID}", func(r chi.Router) {
			// Ownership (buyer vs admin/ops) is enforced in the handler.
			r.Get("/", orderHandler.GetOrder)
			r.With(idem).Post("/cancel", orderHandler.Cancel)
			r.With(middleware.RequireAnyRole("admin", "ops")).Get("/audit", orderHandler.GetAudit)
		})

		r.Route("/freezes", func(r chi.Router) {
			r.Use(middleware.RequireRole("admin"))
			r.With(idem).Post("/", freezeHandler.Freeze)
			r.With(idem).Post("/release", freezeHandler.Release)
		})

		r.With(middleware.RequireAnyRole("admin", "ops")).
			Get("/holders/{holderID}/tokens/{tokenID}/available", freezeHandler.AvailableBalance)

		r.Get("/identities/{holderID}", identityHandler.GetIdentity)
	})

	return r
}
