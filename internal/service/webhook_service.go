package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"payx-ledger/internal/core/domain"
	"payx-ledger/internal/core/ports"
	"payx-ledger/pkg/apperror"
)

// WebhookServiceImpl implements ports.WebhookService: the tenant-facing
// delivery log and the manual retry control.
type WebhookServiceImpl struct {
	outboxRepo ports.OutboxRepository
	log        zerolog.Logger
}

// NewWebhookService creates a new WebhookServiceImpl.
func NewWebhookService(outboxRepo ports.OutboxRepository, log zerolog.Logger) *WebhookServiceImpl {
	return &WebhookServiceImpl{outboxRepo: outboxRepo, log: log}
}

// ListDeliveries fetches a page of the tenant's deliveries, optionally
// filtered by status.
func (s *WebhookServiceImpl) ListDeliveries(ctx context.Context, businessID uuid.UUID, status *domain.OutboxStatus, limit, offset int) ([]domain.OutboxEvent, error) {
	events, err := s.outboxRepo.ListByBusiness(ctx, businessID, status, limit, offset)
	if err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("list deliveries: %w", err))
	}
	return events, nil
}

// GetDelivery fetches one delivery scoped to the tenant.
func (s *WebhookServiceImpl) GetDelivery(ctx context.Context, id, businessID uuid.UUID) (*domain.OutboxEvent, error) {
	event, err := s.outboxRepo.GetByID(ctx, id, businessID)
	if err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("get delivery: %w", err))
	}
	if event == nil {
		return nil, apperror.NotFound("delivery not found")
	}
	return event, nil
}

// RetryDelivery re-arms a failed delivery so the worker picks it up again.
// Only rows in status failed are eligible.
func (s *WebhookServiceImpl) RetryDelivery(ctx context.Context, id, businessID uuid.UUID) (*domain.OutboxEvent, error) {
	event, err := s.outboxRepo.Rearm(ctx, id, businessID)
	if err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("retry delivery: %w", err))
	}
	if event == nil {
		// Either unknown or not in a retryable state; disambiguate for the
		// caller.
		existing, err := s.outboxRepo.GetByID(ctx, id, businessID)
		if err != nil {
			return nil, apperror.DatabaseError(fmt.Errorf("retry delivery lookup: %w", err))
		}
		if existing == nil {
			return nil, apperror.NotFound("delivery not found")
		}
		return nil, apperror.Validation(fmt.Sprintf("delivery is %s; only failed deliveries can be retried", existing.Status))
	}

	s.log.Info().Str("event_id", id.String()).Msg("delivery re-armed")
	return event, nil
}
