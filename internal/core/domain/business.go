package domain

import (
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Business is the tenant: the top-level owner of credentials, accounts and
// webhook configuration.
type Business struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	WebhookURL    *string   `json:"webhook_url,omitempty"`
	WebhookSecret *string   `json:"-"` // returned once at endpoint creation, never again
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ValidWebhookURL reports whether raw is an absolute http(s) URL with a
// host. Both the binding validator and the business service use it.
func ValidWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
