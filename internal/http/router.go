// Package httpapi wires the HTTP transport (Gin) to the chat session,
// middleware and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, authentication, idempotency and rate
// limiting.
//
// Middleware order:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger (or the plain Logger when LOG_REDACT is off)
//  4. Recovery: capture panics after logger
//  5. Metrics (+ /metrics)
//  6. Gzip, CORS and security headers
//
// The API group adds, per request: Authenticate, IdempotencyValidator (before
// the limiter so replays bypass it), the rate limiter, and a per-route body
// cap.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-dm-backend/docs"
	"github.com/tbourn/go-dm-backend/internal/config"
	"github.com/tbourn/go-dm-backend/internal/http/handlers"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/services"
)

const (
	// UploadsPrefix is where stored attachments are served from.
	UploadsPrefix = "/uploads"
	// maxFilesPerUpload bounds one attachment request.
	maxFilesPerUpload = 10
)

// Deps are the collaborators the routes need.
type Deps struct {
	Session *services.ChatSession
	// Files stores attachment uploads. Nil makes the upload route answer 503.
	Files handlers.FileStore
	// Ready reports whether the store is reachable. Nil means always ready.
	Ready func(ctx context.Context) error
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the public API under cfg.APIBasePath.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(accessLogger(cfg.LogRedact))
	r.Use(middleware.Recovery())

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics", UploadsPrefix})))
	r.Use(cors.New(corsConfig(cfg.CORS)))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		CacheControl: "private, no-cache",
		EnablePolicy: true,
		ExposeHeaders: []string{
			"ETag",
			middleware.HeaderIdempotencyReplayed,
		},
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(deps.Ready))

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	if cfg.Upload.Dir != "" && deps.Files != nil {
		r.Static(UploadsPrefix, cfg.Upload.Dir)
	}

	handlers.RegisterValidators()
	h := handlers.New(deps.Session, deps.Files, handlers.Options{
		ExposeErrors:      cfg.ExposeErrors,
		MaxFilesPerUpload: maxFilesPerUpload,
	})

	var lookup middleware.IdempotencyLookup
	if deps.Session != nil {
		lookup = deps.Session.HasIdempotentResult
	}
	limiter := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		middleware.Authenticate(middleware.AuthOptions{
			Secret:          []byte(cfg.Auth.JWTSecret),
			AllowUserHeader: cfg.Auth.AllowUserHeader,
		}),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, lookup),
		limiter.Handler(),
	)

	jsonBody := limitBody(cfg.MaxBodyBytes)
	uploadBody := limitBody(uploadLimit(cfg))
	{
		// Chats
		api.POST("/chats", jsonBody, h.CreateChat)
		api.GET("/chats", h.ListChats)
		api.GET("/chats/:id", h.GetChat)
		api.DELETE("/chats/:id", h.DeleteChat)

		// Messages
		api.GET("/chats/:id/messages", h.ListMessages)
		api.POST("/chats/:id/messages", jsonBody, h.PostMessage)
		api.POST("/chats/:id/read", h.MarkRead)
		api.POST("/chats/:id/messages/:messageId/attachments", uploadBody, h.UploadAttachments)
		api.DELETE("/messages/:id", h.DeleteMessage)
	}
}

// corsConfig allows every origin when none are configured. Credentials stay
// disabled either way; callers authenticate with headers, not cookies.
func corsConfig(c config.CORSConfig) cors.Config {
	out := cors.Config{
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
			middleware.HeaderUserID, middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders: []string{
			"X-Request-ID", "Content-Length", "ETag", "Retry-After",
			middleware.HeaderIdempotencyReplayed,
		},
		MaxAge: 12 * time.Hour,
	}
	if len(c.AllowedOrigins) == 0 {
		out.AllowAllOrigins = true
	} else {
		out.AllowOrigins = c.AllowedOrigins
	}
	return out
}

// accessLogger picks the PII-scrubbing access log unless redaction is off.
func accessLogger(redact bool) gin.HandlerFunc {
	if !redact {
		return middleware.Logger()
	}
	return middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	})
}

// readiness answers 503 while the store cannot be reached.
func readiness(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				middleware.LoggerFrom(c).Warn().Err(err).Msg("readiness check failed")
				handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeStoreUnavailable, "store unavailable")
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// uploadLimit caps a multipart request at the largest accepted batch plus
// room for the multipart framing.
func uploadLimit(cfg config.Config) int64 {
	const framing = 1 << 20
	if cfg.Upload.MaxBytes <= 0 {
		return 0
	}
	return maxFilesPerUpload*cfg.Upload.MaxBytes + framing
}

// limitBody caps the request body with http.MaxBytesReader. Reads beyond
// maxBytes fail, which the handlers answer with 413. maxBytes <= 0 disables
// the cap.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return r.Group("")
	}
	return r.Group(prefix)
}
