package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"payx-ledger/internal/core/domain"
	"payx-ledger/internal/core/ports"
	"payx-ledger/pkg/apperror"
	"payx-ledger/pkg/response"
)

// RateLimiter enforces the per-credential fixed window stored in the
// database. It must run after BearerAuth. A storage failure rejects the
// request; an unaccounted request must not slip past the budget.
func RateLimiter(rateRepo ports.RateLimitRepository, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get(CtxAPIKey)
		if !exists {
			response.Error(c, apperror.InvalidAPIKey())
			c.Abort()
			return
		}
		key := v.(*domain.APIKey)

		now := time.Now().UTC()
		windowStart := now.Truncate(time.Minute)
		windowEnd := windowStart.Add(time.Minute)

		count, err := rateRepo.IncrementWindow(c.Request.Context(), key.ID, windowStart)
		if err != nil {
			log.Error().Err(err).Str("api_key_id", key.ID.String()).Msg("rate limit window upsert failed")
			response.Error(c, apperror.DatabaseError(err))
			c.Abort()
			return
		}

		remaining := key.RateLimitPerMinute - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(key.RateLimitPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(windowEnd.Unix(), 10))

		if count > key.RateLimitPerMinute {
			retryAfter := int64(time.Until(windowEnd).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			response.Error(c, apperror.RateLimitExceeded())
			c.Abort()
			return
		}

		c.Next()
	}
}
