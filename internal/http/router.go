// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, rate limiting, and webhook signatures.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-atendente/internal/config"
	"github.com/tbourn/go-atendente/internal/domain"
	"github.com/tbourn/go-atendente/internal/http/handlers"
	"github.com/tbourn/go-atendente/internal/http/middleware"
	"github.com/tbourn/go-atendente/internal/queue"
	"github.com/tbourn/go-atendente/internal/repo"
	"github.com/tbourn/go-atendente/internal/services"
)

const webhookPath = "/webhook/whatsapp"

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine: the provider webhook at the root, operator endpoints under
// cfg.APIBasePath, and /health, /metrics and optionally /swagger.
//
// Middleware order matters:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger (access log) and ContextLogger (request-scoped logger)
//  4. Recovery
//  5. Body size limiter, gzip
//  6. Metrics
//  7. Idempotency validator (before the rate limiter so replays bypass it)
//  8. Rate limiter (per sender/IP)
//  9. CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, q queue.Queue, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.ContextLogger())
	r.Use(middleware.Recovery())

	// 1 MiB is far above any webhook form or dashboard request.
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics", webhookPath})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		webhookLookup(db),
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyBySenderOrIP())
	r.Use(rl.Handler())

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", health(q))

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	ingest := services.NewIngestService(db, q)
	if cfg.IdempotencyTTL > 0 {
		ingest.IdempotencyTTL = cfg.IdempotencyTTL
	}
	h := handlers.New(
		ingest,
		&services.AppointmentService{DB: db},
		&services.DashboardService{DB: db},
		&services.DeadLetterService{DB: db, Queue: q},
	)

	// Provider webhook
	var sig []gin.HandlerFunc
	if cfg.Twilio.ValidateSignature {
		sig = append(sig, middleware.TwilioSignature(cfg.Twilio.AuthToken, cfg.Twilio.PublicBaseURL))
	}
	r.POST(webhookPath, append(sig, h.ReceiveWhatsApp)...)

	// Operator API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/appointments", h.CreateAppointment)
		api.GET("/appointments", h.ListAppointments)

		dash := api.Group("/dashboard")
		dash.GET("/conversations", h.ListConversations)
		dash.GET("/conversations/:id", h.GetConversation)
		dash.GET("/dead-letters", h.ListDeadLetters)
		dash.POST("/dead-letters/:id/requeue", h.RequeueDeadLetter)
	}
}

// webhookLookup reports live webhook idempotency records. Store errors are
// surfaced to the validator, which treats them as a miss.
func webhookLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, key string, now time.Time) (bool, error) {
		_, err := repo.GetIdempotency(ctx, db, domain.ScopeWebhook, key, now)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
}

// health reports liveness and the current queue depth. A queue error is
// reported in the body but does not fail the probe.
func health(q queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if q != nil {
			if n, err := q.Depth(c.Request.Context()); err != nil {
				body["queue"] = "unavailable"
			} else {
				body["queue_depth"] = n
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

// corsMiddleware allows every origin when none is configured; otherwise it
// echoes allowlisted origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
		middleware.HeaderIdempotencyKey,
	}
	exposeHeaders := []string{"X-Request-ID", "ETag", "Content-Length", "Retry-After"}
	methods := []string{"GET", "POST", "OPTIONS"}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// ACAO even without an Origin header, so simple probes see it.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     allowHeaders,
				ExposeHeaders:    exposeHeaders,
				AllowCredentials: false,
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// limitBody caps the request body at maxBytes using http.MaxBytesReader.
// Requests exceeding the cap cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
