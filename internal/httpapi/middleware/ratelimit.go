package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MsgTooManyRequests is returned with 429.
const MsgTooManyRequests = "Liiga palju päringuid. Proovi hiljem uuesti."

type Limiter interface {
	Allow(ctx context.Context, key string, qps int) (bool, error)
}

// RateLimit allows at most qps requests per second per client IP. A nil
// limiter or a non-positive qps disables it; limiter failures let the request
// through.
func RateLimit(l Limiter, qps int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || qps <= 0 {
			c.Next()
			return
		}
		ok, err := l.Allow(c.Request.Context(), c.ClientIP(), qps)
		if err != nil {
			logrus.WithError(err).WithField("request_id", c.GetString(RequestIDKey)).Warn("rate limiter unavailable")
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": MsgTooManyRequests})
			return
		}
		c.Next()
	}
}
