package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richardliu001/token-ledger/internal/auth"
	"github.com/richardliu001/token-ledger/internal/config"
	"github.com/richardliu001/token-ledger/internal/idempotency"
	"go.uber.org/zap"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type RouterDeps struct {
	Handler     *Handler
	Identity    auth.IdentityProvider
	Idempotency *idempotency.Store
	Gatherer    prometheus.Gatherer
	Health      map[string]HealthCheck
	RateLimit   config.RateLimitConfig
	Log         *zap.SugaredLogger
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(d.Log))

	r.GET("/healthz", healthHandler(d.Health))
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	v1.Use(RateLimitMiddleware(d.RateLimit.RPS, d.RateLimit.Burst))
	v1.Use(AuthMiddleware(d.Identity))
	v1.Use(IdempotencyMiddleware(d.Idempotency, d.Log))
	d.Handler.Register(v1)
	return r
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		report := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				report[name] = err.Error()
				continue
			}
			report[name] = "ok"
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": report})
	}
}
