package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/expiry-discount/internal/analytics"
	"github.com/noah-isme/expiry-discount/internal/audit"
	"github.com/noah-isme/expiry-discount/internal/auth"
	"github.com/noah-isme/expiry-discount/internal/catalog"
	"github.com/noah-isme/expiry-discount/internal/common"
	"github.com/noah-isme/expiry-discount/internal/discount"
	"github.com/noah-isme/expiry-discount/internal/health"
	"github.com/noah-isme/expiry-discount/internal/inventory"
	"github.com/noah-isme/expiry-discount/internal/obs"
	"github.com/noah-isme/expiry-discount/internal/ratelimit"
	"github.com/noah-isme/expiry-discount/internal/rules"
	"github.com/noah-isme/expiry-discount/internal/security"
)

// RouterOptions carries the process-level pieces main owns.
type RouterOptions struct {
	// Mounts adds extra routes such as /debug/pprof.
	Mounts map[string]http.Handler
}

// Router builds the HTTP surface: health, metrics and the /api/v1 group.
func (a *App) Router(opts RouterOptions) (http.Handler, error) {
	cfg := a.Config
	logger := a.Logger

	var verifier *auth.Verifier
	if cfg.JWTSecret != "" {
		v, err := auth.NewVerifier(auth.Config{
			Secret:    cfg.JWTSecret,
			Issuer:    cfg.JWTIssuer,
			Audience:  cfg.JWTAudience,
			ClockSkew: 30 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		verifier = v
	} else {
		logger.Warn().Msg("AUTH_JWT_SECRET not set, /api/v1 is unauthenticated")
	}

	limiterStore, err := ratelimit.NewStore(a.Redis, "rl:api")
	if err != nil {
		return nil, err
	}
	onLimiterError := func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") }
	apiLimit, err := ratelimit.API(limiterStore, cfg.RateLimitAPI, onLimiterError)
	if err != nil {
		return nil, err
	}
	calcLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: a.Redis, Prefix: "rl:calc:"},
		Config: ratelimit.Config{
			Key:    ratelimit.ClientKey("calculate"),
			Window: time.Minute,
			Max:    cfg.RateLimitCalculatePerMin,
		},
		OnError: onLimiterError,
	}

	idem := common.Idem{R: a.Redis, TTL: cfg.IdempotencyTTL}
	auditRec := audit.HTTPRecorder{
		Service: a.Audit,
		OnError: func(err error) { logger.Warn().Err(err).Msg("record audit log") },
	}

	discountHandler := &discount.Handler{Engine: a.Engine, Logger: obs.Component(logger, "discount")}
	analyticsHandler := &analytics.Handler{Svc: a.Analytics, Logger: obs.Component(logger, "analytics")}
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: a.Catalog})
	inventoryHandler := &inventory.Handler{Svc: a.Inventory}
	rulesHandler := &rules.Handler{Svc: a.Rules}
	auditHandler := audit.Handler{Store: a.AuditStore}
	healthHandler := health.Handler{Probes: a.Probes(), Timeout: cfg.HealthTimeout}

	// Without a verifier every caller is treated as an operator.
	authenticate := func(next http.Handler) http.Handler { return next }
	admin := func(next http.Handler) http.Handler { return next }
	if verifier != nil {
		authenticate = auth.Middleware{Verifier: verifier}.RequireAuth
		admin = auth.RequireRole(auth.RoleAdmin)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.MetricsEnabled {
		buckets := obs.ParseBucketsCSV(cfg.MetricsBucketsMS)
		r.Use(obs.HTTPObs{Metrics: obs.NewHTTPMetrics(cfg.MetricsNamespace, buckets, nil)}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders: []string{"Location", "Retry-After", "X-Total-Count", "X-RateLimit-Remaining"},
		MaxAge:         300,
	}))
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.AppEnv == "production"}.Middleware)

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	for pattern, h := range opts.Mounts {
		r.Mount(pattern, h)
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		v.Use(authenticate)
		v.Use(apiLimit)
		v.Use(auditRec.Writes)

		v.Route("/discounts", func(d chi.Router) {
			d.With(admin, calcLimit.Middleware, idem.Middleware).Post("/calculate", discountHandler.Calculate)
			d.Get("/last-run", discountHandler.LastRun)
			d.Get("/analytics", analyticsHandler.Discounts)
		})

		v.Route("/products", func(p chi.Router) {
			p.Get("/", catalogHandler.Products)
			p.With(admin, idem.Middleware).Post("/", catalogHandler.Create)
			p.Get("/{productID}", catalogHandler.Product)
		})

		v.Route("/inventory", func(i chi.Router) {
			i.Get("/", inventoryHandler.List)
			i.With(admin, idem.Middleware).Post("/", inventoryHandler.Create)
			i.Get("/{inventoryID}", inventoryHandler.Get)
			i.Get("/{inventoryID}/price-history", inventoryHandler.PriceHistory)
		})

		v.Route("/rules", func(rr chi.Router) {
			rr.Get("/", rulesHandler.List)
			rr.Get("/preview/{inventoryID}", rulesHandler.Preview)
			rr.Get("/{ruleID}", rulesHandler.Get)
			rr.Group(func(w chi.Router) {
				w.Use(admin)
				w.With(idem.Middleware).Post("/", rulesHandler.Create)
				w.Patch("/{ruleID}", rulesHandler.Update)
				w.Post("/{ruleID}/activate", rulesHandler.Activate)
				w.Post("/{ruleID}/deactivate", rulesHandler.Deactivate)
				w.Delete("/{ruleID}", rulesHandler.Deactivate)
			})
		})

		v.With(admin).Get("/audit-logs", auditHandler.List)
	})

	return r, nil
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
