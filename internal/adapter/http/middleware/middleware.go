package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"payx-ledger/internal/core/domain"
	"payx-ledger/internal/core/ports"
	"payx-ledger/pkg/apperror"
	"payx-ledger/pkg/response"
)

const (
	// Context keys set by BearerAuth.
	CtxBusinessID = "business_id"
	CtxAPIKeyID   = "api_key_id"
	CtxAPIKey     = "api_key"

	touchTimeout = 2 * time.Second
)

// BearerAuth authenticates requests via Authorization: Bearer payx_<key>.
// The credential is resolved by its indexed prefix and verified against the
// stored Argon2id hash. All failures collapse to the same 401 so the response
// leaks nothing about which step rejected the key.
func BearerAuth(apiKeyRepo ports.APIKeyRepository, hashSvc ports.HashService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Error(c, apperror.InvalidAPIKey())
			c.Abort()
			return
		}

		prefix := domain.ExtractKeyPrefix(raw)
		if prefix == "" {
			response.Error(c, apperror.InvalidAPIKey())
			c.Abort()
			return
		}

		key, err := apiKeyRepo.GetByPrefix(c.Request.Context(), prefix)
		if err != nil {
			log.Error().Err(err).Msg("api key lookup failed")
			response.Error(c, apperror.DatabaseError(err))
			c.Abort()
			return
		}
		if key == nil || !key.IsValid(time.Now().UTC()) {
			response.Error(c, apperror.InvalidAPIKey())
			c.Abort()
			return
		}

		match, err := hashSvc.Verify(raw, key.KeyHash)
		if err != nil || !match {
			response.Error(c, apperror.InvalidAPIKey())
			c.Abort()
			return
		}

		// Off the request path; last_used_at is advisory.
		go func(id string) {
			ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
			defer cancel()
			if err := apiKeyRepo.TouchLastUsed(ctx, key.ID, time.Now().UTC()); err != nil {
				log.Debug().Err(err).Str("api_key_id", id).Msg("touch last_used_at failed")
			}
		}(key.ID.String())

		c.Set(CtxBusinessID, key.BusinessID)
		c.Set(CtxAPIKeyID, key.ID)
		c.Set(CtxAPIKey, key)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// RequestLogger logs every HTTP request with latency and status.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Recovery converts panics into the standard 500 envelope.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.ErrorEnvelope{
					Error: apperror.New("internal_error", "internal server error", http.StatusInternalServerError),
				})
			}
		}()
		c.Next()
	}
}

// MaxBodySize caps request body size before any handler reads it.
func MaxBodySize(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
