package server

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/feedlink/internal/logger"
	"go.uber.org/zap"
)

const rateLimitReasonCallerRate = "caller-rate"

// RateLimit charges one request against the client IP's budget for bucket.
func (s *Server) RateLimit(bucket string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		decision, err := s.limiter.Allow(ctx, bucket+":"+c.ClientIP())
		if err != nil {
			logger.WithContext(ctx, s.log).Warn("ratelimit.check.failed", zap.String("bucket", bucket), zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		if decision.Remaining >= 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		}
		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
			s.metrics.RecordRateLimitDenied(c.FullPath(), rateLimitReasonCallerRate)
			logger.WithContext(ctx, s.log).Info("ratelimit.denied",
				zap.String("bucket", bucket),
				zap.String("client_ip", c.ClientIP()),
				zap.Duration("retry_after", decision.RetryAfter),
			)
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Next()
	}
}
