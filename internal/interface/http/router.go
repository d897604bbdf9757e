package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/pagedigest/internal/infra/config"
)

// NewRouter wires up the HTTP handlers and returns a configured server. A nil verifier leaves
// the API unauthenticated.
func NewRouter(cfg *config.Config, handler *Handler, verifier TokenVerifier) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(
		gin.Recovery(),
		requestLogger(handler.logger),
		corsMiddleware(cfg.HTTP.CORSOrigins),
		errorHandlingMiddleware(handler.logger),
	)

	router.GET("/healthz", handler.Health)

	api := router.Group("/api/v1")
	api.Use(
		authMiddleware(verifier),
		rateLimitMiddleware(cfg.HTTP.RateLimit, handler.logger),
	)
	{
		api.POST("/summaries", handler.Summarize)
		api.POST("/summaries/stream", handler.SummarizeStream)
		api.POST("/sessions/:id/cancel", handler.CancelSession)
		api.DELETE("/sessions/:id", handler.DeleteSession)
		api.GET("/sessions/:id/summary", handler.ActiveSummary)
		api.POST("/sessions/:id/chat", handler.Chat)
		api.GET("/providers", handler.ListProviders)
		api.POST("/providers/:id/test", handler.TestProvider)
	}

	return &http.Server{
		Addr:           cfg.HTTP.Address,
		Handler:        router,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		attrs := []any{"method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status(), "latency_ms", latency.Milliseconds()}
		if claims, ok := getClaims(c); ok {
			attrs = append(attrs, "subject", claims.Subject)
		}
		logger.Info("http request", attrs...)
	}
}
