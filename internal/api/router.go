package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"fives-agent/internal/api/docs"
	middlewarex "fives-agent/internal/api/middleware"
	"fives-agent/internal/config"
	dcache "fives-agent/internal/domain/cache"
	"fives-agent/internal/domain/ratelimit"
	metricsinfra "fives-agent/internal/infra/metrics"
)

// Per-client API budget is expressed per minute in the configuration.
const rateLimitWindow = time.Minute

type Router struct {
	*chi.Mux
	Server *http.Server
	logger *slog.Logger
	cfg    *config.Config
}

type Deps struct {
	Cache       dcache.LastMatchCache
	Matches     matchCreator
	Sessions    middlewarex.SessionInspector
	Limiter     ratelimit.Limiter
	Idempotency *middlewarex.IdempotencyMiddleware
	Metrics     *metricsinfra.Metrics
}

func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middlewarex.Logger(logger))
	r.Use(middlewarex.Metrics(deps.Metrics))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	r.Get("/swagger/doc.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write(docs.SwaggerJSON)
	})
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	lastMatch := NewLastMatchHandler(deps.Cache)
	matches := NewMatchHandler(deps.Matches)

	r.Route("/api/v1", func(r chi.Router) {
		if deps.Sessions != nil {
			r.Use(middlewarex.Session(deps.Sessions))
		}
		r.Use(middlewarex.ClientRateLimit(deps.Limiter, rateLimitWindow))

		r.Get("/teams/{teamID}/last-match", lastMatch.Get)
		r.Put("/teams/{teamID}/last-match", lastMatch.Put)
		r.Delete("/teams/{teamID}/last-match", lastMatch.Invalidate)
		r.Delete("/last-match", lastMatch.Clear)
		r.Get("/last-match/stats", lastMatch.Stats)

		r.With(deps.Idempotency.Handler).Post("/matches/full", matches.CreateFull)
	})

	router := &Router{
		Mux:    r,
		logger: logger,
		cfg:    cfg,
	}

	router.Server = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return router
}
