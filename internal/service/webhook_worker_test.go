package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"payx-ledger/internal/core/domain"
	"payx-ledger/internal/core/ports/mocks"
)

type workerTestDeps struct {
	worker       *WebhookWorker
	outboxRepo   *mocks.MockOutboxRepository
	businessRepo *mocks.MockBusinessRepository
	rateRepo     *mocks.MockRateLimitRepository
	transactor   *mocks.MockDBTransactor
	ctrl         *gomock.Controller
}

func setupWorker(t *testing.T, client HTTPClient) *workerTestDeps {
	ctrl := gomock.NewController(t)
	d := &workerTestDeps{
		outboxRepo:   mocks.NewMockOutboxRepository(ctrl),
		businessRepo: mocks.NewMockBusinessRepository(ctrl),
		rateRepo:     mocks.NewMockRateLimitRepository(ctrl),
		transactor:   mocks.NewMockDBTransactor(ctrl),
		ctrl:         ctrl,
	}
	d.worker = NewWebhookWorker(
		d.transactor, d.outboxRepo, d.businessRepo, d.rateRepo,
		NewHMACSignatureService(), client, 10, zerolog.Nop(),
	)
	return d
}

func pendingEvent(businessID uuid.UUID, attempts int) domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:          uuid.New(),
		BusinessID:  businessID,
		EventType:   domain.EventTransactionCompleted,
		Payload:     []byte(`{"id":"evt_test","event_type":"transaction.completed"}`),
		Status:      domain.OutboxStatusPending,
		Attempts:    attempts,
		MaxAttempts: domain.DefaultMaxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
}

func webhookBusiness(id uuid.UUID, url, secret string) *domain.Business {
	return &domain.Business{
		ID:            id,
		Name:          "acme",
		WebhookURL:    &url,
		WebhookSecret: &secret,
	}
}

func TestWebhookWorker_ProcessBatch_Delivers(t *testing.T) {
	const secret = "whsec_test"

	var (
		gotBody      []byte
		gotSignature string
		gotID        string
		gotTimestamp string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotID = r.Header.Get("X-Webhook-Id")
		gotTimestamp = r.Header.Get("X-Webhook-Timestamp")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := setupWorker(t, srv.Client())
	defer d.ctrl.Finish()

	businessID := uuid.New()
	event := pendingEvent(businessID, 0)
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.outboxRepo.EXPECT().ClaimBatch(gomock.Any(), tx, 10, gomock.Any()).
		Return([]domain.OutboxEvent{event}, nil)
	d.businessRepo.EXPECT().GetByID(gomock.Any(), businessID).
		Return(webhookBusiness(businessID, srv.URL, secret), nil)
	d.outboxRepo.EXPECT().MarkDelivered(gomock.Any(), tx, event.ID, gomock.Any()).Return(nil)

	n, err := d.worker.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []byte(event.Payload), gotBody)
	assert.Equal(t, event.ID.String(), gotID)
	assert.NotEmpty(t, gotTimestamp)
	// The receiver must be able to verify the signature over the raw body.
	assert.True(t, NewHMACSignatureService().Verify(secret, gotBody, gotSignature))
}

func TestWebhookWorker_ProcessBatch_SchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := setupWorker(t, srv.Client())
	defer d.ctrl.Finish()

	businessID := uuid.New()
	event := pendingEvent(businessID, 0)
	tx := &mockTx{}
	before := time.Now().UTC()

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.outboxRepo.EXPECT().ClaimBatch(gomock.Any(), tx, 10, gomock.Any()).
		Return([]domain.OutboxEvent{event}, nil)
	d.businessRepo.EXPECT().GetByID(gomock.Any(), businessID).
		Return(webhookBusiness(businessID, srv.URL, "whsec_test"), nil)
	d.outboxRepo.EXPECT().ScheduleRetry(gomock.Any(), tx, event.ID, 1, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ any, _ uuid.UUID, _ int, next time.Time, lastError string) error {
			// First failure backs off 2^1 seconds plus up to 1s jitter.
			assert.True(t, next.After(before.Add(2*time.Second)))
			assert.True(t, next.Before(before.Add(4*time.Second)))
			assert.Contains(t, lastError, "http 500")
			return nil
		})

	n, err := d.worker.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWebhookWorker_ProcessBatch_ExhaustedMarksFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := setupWorker(t, srv.Client())
	defer d.ctrl.Finish()

	businessID := uuid.New()
	event := pendingEvent(businessID, domain.DefaultMaxAttempts-1)
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.outboxRepo.EXPECT().ClaimBatch(gomock.Any(), tx, 10, gomock.Any()).
		Return([]domain.OutboxEvent{event}, nil)
	d.businessRepo.EXPECT().GetByID(gomock.Any(), businessID).
		Return(webhookBusiness(businessID, srv.URL, "whsec_test"), nil)
	d.outboxRepo.EXPECT().MarkFailed(gomock.Any(), tx, event.ID, "http 502").Return(nil)

	n, err := d.worker.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWebhookWorker_ProcessBatch_NoURLIsNoOp(t *testing.T) {
	d := setupWorker(t, http.DefaultClient)
	defer d.ctrl.Finish()

	businessID := uuid.New()
	event := pendingEvent(businessID, 0)
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.outboxRepo.EXPECT().ClaimBatch(gomock.Any(), tx, 10, gomock.Any()).
		Return([]domain.OutboxEvent{event}, nil)
	d.businessRepo.EXPECT().GetByID(gomock.Any(), businessID).
		Return(&domain.Business{ID: businessID, Name: "acme"}, nil)
	// No HTTP call happens; the row is closed out as delivered.
	d.outboxRepo.EXPECT().MarkDelivered(gomock.Any(), tx, event.ID, gomock.Any()).Return(nil)

	n, err := d.worker.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWebhookWorker_ProcessBatch_Empty(t *testing.T) {
	d := setupWorker(t, http.DefaultClient)
	defer d.ctrl.Finish()

	tx := &mockTx{}
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.outboxRepo.EXPECT().ClaimBatch(gomock.Any(), tx, 10, gomock.Any()).
		Return(nil, nil)

	n, err := d.worker.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempts int
		min      time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{20, time.Hour},
	}
	for _, tt := range tests {
		got := backoffDelay(tt.attempts)
		assert.GreaterOrEqual(t, got, tt.min, "attempts=%d", tt.attempts)
		assert.Less(t, got, tt.min+time.Second, "attempts=%d", tt.attempts)
	}
}
