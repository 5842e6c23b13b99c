package dto

import (
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"payx-ledger/internal/core/domain"
	"payx-ledger/pkg/apperror"
)

const (
	defaultLimit = 50
	maxLimit     = 100

	// Idempotency-Key header values beyond this are rejected up front.
	maxIdempotencyKeyLen = 255
)

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("currency_code", validateCurrencyCode)
		_ = v.RegisterValidation("webhook_url", validateWebhookURL)
	}
}

// validateCurrencyCode accepts 3-letter uppercase ISO codes.
func validateCurrencyCode(fl validator.FieldLevel) bool {
	return currencyRe.MatchString(fl.Field().String())
}

// validateWebhookURL defers to the domain rule for webhook endpoints.
func validateWebhookURL(fl validator.FieldLevel) bool {
	return domain.ValidWebhookURL(fl.Field().String())
}

// ParsePagination reads limit/offset query parameters, clamping limit to
// [1, 100] with a default of 50.
func ParsePagination(c *gin.Context) (limit, offset int, err error) {
	limit = defaultLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, apperror.Validation("limit must be a positive integer")
		}
		if limit > maxLimit {
			limit = maxLimit
		}
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, apperror.Validation("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// ParseIdempotencyKey reads and bounds the Idempotency-Key header. Returns
// nil when the header is absent.
func ParseIdempotencyKey(c *gin.Context) (*string, error) {
	key := c.GetHeader("Idempotency-Key")
	if key == "" {
		return nil, nil
	}
	if len(key) > maxIdempotencyKeyLen {
		return nil, apperror.Validation("Idempotency-Key must be at most 255 characters")
	}
	return &key, nil
}
