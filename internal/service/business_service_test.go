package service

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"payx-ledger/internal/core/domain"
	"payx-ledger/internal/core/ports"
	"payx-ledger/internal/core/ports/mocks"
	"payx-ledger/pkg/apperror"
)

type businessTestDeps struct {
	svc          *BusinessServiceImpl
	businessRepo *mocks.MockBusinessRepository
	apiKeyRepo   *mocks.MockAPIKeyRepository
	hashSvc      *mocks.MockHashService
	ctrl         *gomock.Controller
}

func setupBusinessService(t *testing.T) *businessTestDeps {
	ctrl := gomock.NewController(t)
	d := &businessTestDeps{
		businessRepo: mocks.NewMockBusinessRepository(ctrl),
		apiKeyRepo:   mocks.NewMockAPIKeyRepository(ctrl),
		hashSvc:      mocks.NewMockHashService(ctrl),
		ctrl:         ctrl,
	}
	d.svc = NewBusinessService(d.businessRepo, d.apiKeyRepo, d.hashSvc, 100, zerolog.Nop())
	return d
}

func TestBusinessService_Create(t *testing.T) {
	d := setupBusinessService(t)
	defer d.ctrl.Finish()

	url := "https://example.com/hooks"
	in := ports.CreateBusinessInput{
		Name:       "  Acme Corp  ",
		Email:      "ops@acme.test",
		WebhookURL: &url,
	}

	d.businessRepo.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, b *domain.Business) error {
			assert.Equal(t, "Acme Corp", b.Name)
			require.NotNil(t, b.WebhookSecret)
			assert.NotEmpty(t, *b.WebhookSecret)
			return nil
		})
	d.hashSvc.EXPECT().Hash(gomock.Any()).
		DoAndReturn(func(raw string) (string, error) {
			assert.True(t, strings.HasPrefix(raw, domain.KeyTag))
			return "$argon2id$hashed", nil
		})
	d.apiKeyRepo.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, k *domain.APIKey) error {
			assert.Equal(t, "$argon2id$hashed", k.KeyHash)
			assert.Len(t, k.KeyPrefix, domain.KeyPrefixLen)
			assert.Equal(t, 100, k.RateLimitPerMinute)
			return nil
		})

	result, err := d.svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.RawKey, domain.KeyTag))
	assert.NotEmpty(t, result.WebhookSecret)
	assert.Equal(t, result.Business.ID, result.APIKey.BusinessID)
}

func TestBusinessService_Create_Validation(t *testing.T) {
	d := setupBusinessService(t)
	defer d.ctrl.Finish()

	badURL := "not a url"
	tests := []struct {
		name string
		in   ports.CreateBusinessInput
	}{
		{"empty name", ports.CreateBusinessInput{Name: "   ", Email: "a@b.test"}},
		{"bad webhook url", ports.CreateBusinessInput{Name: "Acme", Email: "a@b.test", WebhookURL: &badURL}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.svc.Create(context.Background(), tt.in)
			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, "validation_error", appErr.Code)
		})
	}
}

func TestBusinessService_Update(t *testing.T) {
	d := setupBusinessService(t)
	defer d.ctrl.Finish()

	id := uuid.New()
	name := "New Name"

	d.businessRepo.EXPECT().GetByID(gomock.Any(), id).
		Return(&domain.Business{ID: id, Name: "Old", Email: "old@acme.test"}, nil)
	d.businessRepo.EXPECT().Update(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, b *domain.Business) error {
			assert.Equal(t, "New Name", b.Name)
			assert.Equal(t, "old@acme.test", b.Email)
			return nil
		})

	business, err := d.svc.Update(context.Background(), id, ports.UpdateBusinessInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "New Name", business.Name)
}

func TestBusinessService_Get_NotFound(t *testing.T) {
	d := setupBusinessService(t)
	defer d.ctrl.Finish()

	id := uuid.New()
	d.businessRepo.EXPECT().GetByID(gomock.Any(), id).Return(nil, nil)

	_, err := d.svc.Get(context.Background(), id)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "business_not_found", appErr.Code)
}

func TestBusinessService_SetWebhookEndpoint_RotatesSecret(t *testing.T) {
	d := setupBusinessService(t)
	defer d.ctrl.Finish()

	id := uuid.New()
	url := "https://example.com/hooks"

	d.businessRepo.EXPECT().SetWebhookEndpoint(gomock.Any(), id, &url, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, u, secret *string) (*domain.Business, error) {
			require.NotNil(t, secret)
			assert.NotEmpty(t, *secret)
			return &domain.Business{ID: id, WebhookURL: u, WebhookSecret: secret}, nil
		})

	business, secret, err := d.svc.SetWebhookEndpoint(context.Background(), id, url)
	require.NoError(t, err)
	assert.Equal(t, url, *business.WebhookURL)
	assert.Equal(t, secret, *business.WebhookSecret)
}

func TestBusinessService_UpdateWebhookEndpoint_KeepsSecret(t *testing.T) {
	d := setupBusinessService(t)
	defer d.ctrl.Finish()

	id := uuid.New()
	oldURL := "https://old.example.com/hooks"
	newURL := "https://new.example.com/hooks"
	secret := "whsec_keep"

	d.businessRepo.EXPECT().GetByID(gomock.Any(), id).
		Return(&domain.Business{ID: id, WebhookURL: &oldURL, WebhookSecret: &secret}, nil)
	d.businessRepo.EXPECT().SetWebhookEndpoint(gomock.Any(), id, &newURL, &secret).
		Return(&domain.Business{ID: id, WebhookURL: &newURL, WebhookSecret: &secret}, nil)

	business, err := d.svc.UpdateWebhookEndpoint(context.Background(), id, newURL)
	require.NoError(t, err)
	assert.Equal(t, newURL, *business.WebhookURL)
}

func TestBusinessService_DeleteWebhookEndpoint(t *testing.T) {
	d := setupBusinessService(t)
	defer d.ctrl.Finish()

	id := uuid.New()
	d.businessRepo.EXPECT().SetWebhookEndpoint(gomock.Any(), id, gomock.Nil(), gomock.Nil()).
		Return(&domain.Business{ID: id}, nil)

	require.NoError(t, d.svc.DeleteWebhookEndpoint(context.Background(), id))
}
