package http

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richardliu001/token-ledger/internal/auth"
	"github.com/richardliu001/token-ledger/internal/idempotency"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	RequestIDHeader   = "X-Request-ID"
	IdempotencyHeader = "Idempotency-Key"

	ctxUserID = "user_id"
)

// LoggingMiddleware logs one line per request and tags it with a request id.
func LoggingMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(RequestIDHeader, rid)
		c.Next()
		log.Infow("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"request_id", rid,
		)
	}
}

// RateLimitMiddleware simple token bucket per IP.
func RateLimitMiddleware(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	buckets := make(map[string]*rate.Limiter)
	newLimiter := func() *rate.Limiter { return rate.NewLimiter(rate.Limit(rps), burst) }
	return func(c *gin.Context) {
		ip, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			ip = c.Request.RemoteAddr
		}
		mu.Lock()
		lim, ok := buckets[ip]
		if !ok {
			lim = newLimiter()
			buckets[ip] = lim
		}
		mu.Unlock()
		if !lim.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the caller's user id on the context. Wallet ownership is checked later by
// the processors.
func AuthMiddleware(identity auth.IdentityProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := identity.Identify(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(ctxUserID, id.UserID)
		c.Next()
	}
}

type capturingWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response of a request already
// completed under the same Idempotency-Key and refuses concurrent
// duplicates. Only successful responses are kept; any other outcome frees
// the key for a retry. Requests without the header, or arriving while Redis is
// unreachable, pass through; the ledger still rejects duplicate content by
// hash. Must run after AuthMiddleware.
func IdempotencyMiddleware(store *idempotency.Store, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if store == nil || key == "" {
			c.Next()
			return
		}
		scope := c.GetString(ctxUserID) + ":" + c.FullPath()
		ctx := c.Request.Context()

		prior, err := store.Begin(ctx, scope, key)
		switch {
		case errors.Is(err, idempotency.ErrInProgress):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case err != nil:
			log.Warnw("idempotency store unavailable", "key", key, "error", err)
			c.Next()
			return
		case prior != nil:
			c.Header("X-Idempotency-Hit", "true")
			c.Data(prior.Status, "application/json; charset=utf-8", prior.Body)
			c.Abort()
			return
		}

		w := &capturingWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = w
		c.Next()

		// the client may be gone by now; the outcome still has to be recorded
		ctx = context.WithoutCancel(ctx)
		status := w.Status()
		if status < 200 || status >= 300 {
			if err := store.Release(ctx, scope, key); err != nil {
				log.Warnw("idempotency release failed", "key", key, "error", err)
			}
			return
		}
		if err := store.Complete(ctx, scope, key, idempotency.Response{Status: status, Body: w.body.Bytes()}); err != nil {
			log.Warnw("idempotency store failed", "key", key, "error", err)
		}
	}
}
