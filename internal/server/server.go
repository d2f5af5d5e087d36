// Package server implements the HTTP transport layer for the studio gateway.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/analytics"
	"github.com/mattdarbro/studio-api/internal/auth"
	"github.com/mattdarbro/studio-api/internal/breaker"
	"github.com/mattdarbro/studio-api/internal/catalog"
	"github.com/mattdarbro/studio-api/internal/config"
	"github.com/mattdarbro/studio-api/internal/images"
	"github.com/mattdarbro/studio-api/internal/pricing"
	"github.com/mattdarbro/studio-api/internal/provider"
	"github.com/mattdarbro/studio-api/internal/ratelimit"
	"github.com/mattdarbro/studio-api/internal/storage"
	"github.com/mattdarbro/studio-api/internal/telemetry"
	"github.com/mattdarbro/studio-api/internal/tokencount"
	"github.com/mattdarbro/studio-api/internal/tower"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// UsageRecorder records API usage asynchronously.
type UsageRecorder interface {
	Record(gateway.UsageEntry)
}

// PredictionFetcher fetches a prediction snapshot by ID (Replicate).
type PredictionFetcher interface {
	GetPrediction(ctx context.Context, id, key string) (*gateway.Prediction, error)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth        *auth.Authenticator
	Apple       *auth.AppleVerifier // nil = platform sign-in disabled
	Users       storage.UserStore   // nil only when Apple is nil
	Catalog     *catalog.Catalog
	Providers   *provider.Registry
	Keys        config.ProviderKeys
	Prices      *pricing.Table
	Counter     *tokencount.Counter
	Breakers    *breaker.Registry  // nil = no circuit breaking
	RateLimiter *ratelimit.Limiter // nil = no rate limiting
	CostCap     *ratelimit.CostCap // nil = no spend caps
	Usage       UsageRecorder      // nil = no usage recording
	Images      *images.Service    // nil = hosted images disabled
	Predictions PredictionFetcher  // nil disables prediction snapshots
	Analytics   *analytics.Service // nil disables analytics
	Tower       *tower.Tower       // nil disables the agent sandbox
	ReadyCheck  ReadyChecker       // nil = always ready (for tests)
	Metrics     *telemetry.Metrics // nil = no metrics
	Registry    prometheus.Gatherer
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReadyz)
	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	// Session lifecycle (credentials checked in the handlers themselves)
	r.Post("/v1/validate", s.handleValidate)
	r.Post("/v1/validate/refresh", s.handleRefresh)
	r.Post("/v1/validate/revoke", s.handleRevoke)
	r.Post("/v1/revoke", s.handleRevoke)
	if deps.Apple != nil {
		r.Post("/v1/auth/apple", s.handleAppleAuth)
	}

	// Hosted images are public: the stable URL is the whole point.
	if deps.Images != nil {
		r.Get("/v1/hosted/{id}", s.handleHostedImage)
	}

	// Client-facing API (auth + limits)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)
		r.Use(s.costCap)

		r.Get("/v1/models", s.handleListModels)
		r.Post("/v1/chat", s.handleChat)
		r.Post("/v1/chat/completions", s.handleChat)
		r.Post("/v1/images", s.handleImageGeneration)
		r.Post("/v1/images/generations", s.handleImageGeneration)
		r.Get("/v1/images/{id}", s.handleImageStatus)
		r.Post("/v1/music", s.handleMusic)
		r.Post("/v1/voice", s.handleVoice)
		r.Get("/v1/ephemeral", s.handleRealtimeSession)
		r.Post("/v1/realtime/sessions", s.handleRealtimeSession)

		// Analytics are operator-only.
		if deps.Analytics != nil {
			r.Group(func(r chi.Router) {
				r.Use(s.requireOperator)
				r.Get("/v1/analytics/summary", s.handleAnalyticsSummary)
				r.Get("/v1/analytics/usage", s.handleAnalyticsUsage)
				r.Get("/v1/analytics/health", s.handleAnalyticsHealth)
				r.Post("/v1/analytics/query", s.handleAnalyticsQuery)
			})
		}
	})

	// Agent sandbox (its own key scheme, outside the client middleware)
	if deps.Tower != nil {
		r.Group(func(r chi.Router) {
			r.Use(s.towerAuthenticate)
			r.Post("/v1/tower/request", s.handleTowerRequest)
			r.Get("/v1/tower/status", s.handleTowerStatus)
			r.Get("/v1/tower/audit", s.handleTowerAudit)
		})
	}

	return r
}

type server struct {
	deps Deps
}
