package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"payx-ledger/internal/core/domain"
	"payx-ledger/internal/core/ports"
	"payx-ledger/pkg/apperror"
)

// BusinessServiceImpl implements ports.BusinessService: tenant provisioning,
// credential issuance, and webhook endpoint management.
type BusinessServiceImpl struct {
	businessRepo ports.BusinessRepository
	apiKeyRepo   ports.APIKeyRepository
	hashSvc      ports.HashService
	defaultRate  int
	log          zerolog.Logger
}

// NewBusinessService creates a new BusinessServiceImpl. defaultRate is the
// per-minute request budget stamped on issued credentials.
func NewBusinessService(
	businessRepo ports.BusinessRepository,
	apiKeyRepo ports.APIKeyRepository,
	hashSvc ports.HashService,
	defaultRate int,
	log zerolog.Logger,
) *BusinessServiceImpl {
	return &BusinessServiceImpl{
		businessRepo: businessRepo,
		apiKeyRepo:   apiKeyRepo,
		hashSvc:      hashSvc,
		defaultRate:  defaultRate,
		log:          log,
	}
}

// Create provisions a tenant with its first credential and webhook signing
// secret. The raw key and secret appear only in the returned result.
func (s *BusinessServiceImpl) Create(ctx context.Context, in ports.CreateBusinessInput) (*ports.CreateBusinessResult, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperror.Validation("name is required")
	}
	if in.WebhookURL != nil {
		if err := validateWebhookURL(*in.WebhookURL); err != nil {
			return nil, err
		}
	}

	secret, err := domain.GenerateWebhookSecret()
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("generate webhook secret: %w", err))
	}

	now := time.Now().UTC()
	business := &domain.Business{
		ID:            uuid.New(),
		Name:          strings.TrimSpace(in.Name),
		Email:         strings.TrimSpace(in.Email),
		WebhookURL:    in.WebhookURL,
		WebhookSecret: &secret,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.businessRepo.Create(ctx, business); err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("create business: %w", err))
	}

	key, rawKey, err := s.issueKey(ctx, business.ID, now)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("business_id", business.ID.String()).
		Str("key_prefix", key.KeyPrefix).
		Msg("business created")

	return &ports.CreateBusinessResult{
		Business:      business,
		APIKey:        key,
		RawKey:        rawKey,
		WebhookSecret: secret,
	}, nil
}

// issueKey mints, hashes and stores a credential, returning the raw key.
func (s *BusinessServiceImpl) issueKey(ctx context.Context, businessID uuid.UUID, now time.Time) (*domain.APIKey, string, error) {
	rawKey, err := domain.GenerateRawKey()
	if err != nil {
		return nil, "", apperror.Internal(fmt.Errorf("generate api key: %w", err))
	}
	keyHash, err := s.hashSvc.Hash(rawKey)
	if err != nil {
		return nil, "", apperror.Internal(fmt.Errorf("hash api key: %w", err))
	}

	name := "default"
	key := &domain.APIKey{
		ID:                 uuid.New(),
		BusinessID:         businessID,
		KeyHash:            keyHash,
		KeyPrefix:          domain.ExtractKeyPrefix(rawKey),
		Name:               &name,
		RateLimitPerMinute: s.defaultRate,
		CreatedAt:          now,
	}
	if err := s.apiKeyRepo.Create(ctx, key); err != nil {
		return nil, "", apperror.DatabaseError(fmt.Errorf("create api key: %w", err))
	}
	return key, rawKey, nil
}

// Get fetches a tenant.
func (s *BusinessServiceImpl) Get(ctx context.Context, id uuid.UUID) (*domain.Business, error) {
	business, err := s.businessRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("get business: %w", err))
	}
	if business == nil {
		return nil, apperror.BusinessNotFound(id)
	}
	return business, nil
}

// Update applies the mutable tenant fields.
func (s *BusinessServiceImpl) Update(ctx context.Context, id uuid.UUID, in ports.UpdateBusinessInput) (*domain.Business, error) {
	business, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, apperror.Validation("name must not be empty")
		}
		business.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		business.Email = strings.TrimSpace(*in.Email)
	}
	if err := s.businessRepo.Update(ctx, business); err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("update business: %w", err))
	}
	return business, nil
}

// SetWebhookEndpoint stores the URL and rotates the signing secret. The
// returned secret is shown once.
func (s *BusinessServiceImpl) SetWebhookEndpoint(ctx context.Context, businessID uuid.UUID, rawURL string) (*domain.Business, string, error) {
	if err := validateWebhookURL(rawURL); err != nil {
		return nil, "", err
	}
	secret, err := domain.GenerateWebhookSecret()
	if err != nil {
		return nil, "", apperror.Internal(fmt.Errorf("generate webhook secret: %w", err))
	}

	business, err := s.businessRepo.SetWebhookEndpoint(ctx, businessID, &rawURL, &secret)
	if err != nil {
		return nil, "", apperror.DatabaseError(fmt.Errorf("set webhook endpoint: %w", err))
	}
	if business == nil {
		return nil, "", apperror.BusinessNotFound(businessID)
	}

	s.log.Info().Str("business_id", businessID.String()).Msg("webhook endpoint configured, secret rotated")
	return business, secret, nil
}

// UpdateWebhookEndpoint changes the URL without rotating the secret.
func (s *BusinessServiceImpl) UpdateWebhookEndpoint(ctx context.Context, businessID uuid.UUID, rawURL string) (*domain.Business, error) {
	if err := validateWebhookURL(rawURL); err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, businessID)
	if err != nil {
		return nil, err
	}
	business, err := s.businessRepo.SetWebhookEndpoint(ctx, businessID, &rawURL, current.WebhookSecret)
	if err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("update webhook endpoint: %w", err))
	}
	if business == nil {
		return nil, apperror.BusinessNotFound(businessID)
	}
	return business, nil
}

// DeleteWebhookEndpoint clears the URL and secret; pending outbox rows for
// the tenant become no-op deliveries.
func (s *BusinessServiceImpl) DeleteWebhookEndpoint(ctx context.Context, businessID uuid.UUID) error {
	business, err := s.businessRepo.SetWebhookEndpoint(ctx, businessID, nil, nil)
	if err != nil {
		return apperror.DatabaseError(fmt.Errorf("delete webhook endpoint: %w", err))
	}
	if business == nil {
		return apperror.BusinessNotFound(businessID)
	}
	return nil
}

func validateWebhookURL(raw string) error {
	if !domain.ValidWebhookURL(raw) {
		return apperror.Validation("webhook_url must be a valid http(s) URL")
	}
	return nil
}
