package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/emberwire/relay/internal/v0/logging"
)

// HTTPLimiter rate-limits control-plane requests and WebSocket connection
// attempts per client IP. All state is in-memory; the relay is
// single-process by contract.
type HTTPLimiter struct {
	api *limiter.Limiter
	ws  *limiter.Limiter
}

// NewHTTPLimiter parses ulule-formatted rates (e.g. "100-M") and builds the
// limiter on a memory store.
func NewHTTPLimiter(apiRate, wsRate string) (*HTTPLimiter, error) {
	parsedAPI, err := limiter.NewRateFromFormatted(apiRate)
	if err != nil {
		return nil, fmt.Errorf("invalid API rate: %w", err)
	}
	parsedWs, err := limiter.NewRateFromFormatted(wsRate)
	if err != nil {
		return nil, fmt.Errorf("invalid WS rate: %w", err)
	}

	store := memory.NewStore()
	return &HTTPLimiter{
		api: limiter.New(store, parsedAPI),
		ws:  limiter.New(store, parsedWs),
	}, nil
}

// Middleware enforces the control-plane rate per client IP.
func (rl *HTTPLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		lctx, err := rl.api.Get(ctx, c.ClientIP())
		if err != nil {
			// Fail open: availability over strictness.
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// CheckWebSocket reports whether a connection attempt from this IP may
// proceed; on refusal the error response has already been written.
func (rl *HTTPLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()
	lctx, err := rl.ws.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		return true
	}

	if lctx.Reached {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this IP"})
		return false
	}
	return true
}
