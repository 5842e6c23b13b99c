package domain

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// KeyTag prefixes every issued credential.
	KeyTag = "payx_"
	// KeyPrefixLen is the number of characters after the tag persisted for
	// indexed lookup.
	KeyPrefixLen = 12
)

// APIKey is a tenant credential. The raw key is returned once at creation;
// only its Argon2id hash and a short lookup prefix are persisted.
type APIKey struct {
	ID                 uuid.UUID  `json:"id"`
	BusinessID         uuid.UUID  `json:"business_id"`
	KeyHash            string     `json:"-"`
	KeyPrefix          string     `json:"key_prefix"`
	Name               *string    `json:"name,omitempty"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	RevokedAt          *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
}

// IsValid reports whether the key is neither revoked nor expired at now.
func (k *APIKey) IsValid(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && k.ExpiresAt.Before(now) {
		return false
	}
	return true
}

// GenerateRawKey produces a fresh credential: the tag followed by 32 random
// bytes in unpadded base64url.
func GenerateRawKey() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return KeyTag + base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

// ExtractKeyPrefix returns the indexed lookup prefix: the first 12 characters
// after the tag. Returns "" if the credential is malformed.
func ExtractKeyPrefix(raw string) string {
	rest, ok := strings.CutPrefix(raw, KeyTag)
	if !ok || len(rest) < KeyPrefixLen {
		return ""
	}
	return rest[:KeyPrefixLen]
}

// GenerateWebhookSecret produces a fresh signing secret (32 random bytes,
// unpadded base64url).
func GenerateWebhookSecret() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}
