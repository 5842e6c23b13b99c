package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"payx-ledger/internal/adapter/http/dto"
	"payx-ledger/internal/adapter/http/middleware"
	"payx-ledger/internal/core/domain"
	"payx-ledger/internal/core/ports"
	"payx-ledger/pkg/apperror"
	"payx-ledger/pkg/response"
)

// WebhookHandler handles webhook endpoint configuration and the delivery
// log.
type WebhookHandler struct {
	businessSvc ports.BusinessService
	webhookSvc  ports.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(businessSvc ports.BusinessService, webhookSvc ports.WebhookService) *WebhookHandler {
	return &WebhookHandler{businessSvc: businessSvc, webhookSvc: webhookSvc}
}

// CreateEndpoint handles POST /v1/webhooks/endpoints. The signing secret is
// rotated and returned once.
func (h *WebhookHandler) CreateEndpoint(c *gin.Context) {
	businessID := c.MustGet(middleware.CtxBusinessID).(uuid.UUID)

	var req dto.WebhookEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	_, secret, err := h.businessSvc.SetWebhookEndpoint(c.Request.Context(), businessID, req.URL)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.WebhookEndpointResponse{URL: req.URL, Secret: secret})
}

// UpdateEndpoint handles PUT /v1/webhooks/endpoints. The URL changes; the
// signing secret stays.
func (h *WebhookHandler) UpdateEndpoint(c *gin.Context) {
	businessID := c.MustGet(middleware.CtxBusinessID).(uuid.UUID)

	var req dto.WebhookEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	if _, err := h.businessSvc.UpdateWebhookEndpoint(c.Request.Context(), businessID, req.URL); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.WebhookEndpointResponse{URL: req.URL})
}

// DeleteEndpoint handles DELETE /v1/webhooks/endpoints.
func (h *WebhookHandler) DeleteEndpoint(c *gin.Context) {
	businessID := c.MustGet(middleware.CtxBusinessID).(uuid.UUID)

	if err := h.businessSvc.DeleteWebhookEndpoint(c.Request.Context(), businessID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListDeliveries handles GET /v1/webhooks/deliveries with an optional
// status filter.
func (h *WebhookHandler) ListDeliveries(c *gin.Context) {
	businessID := c.MustGet(middleware.CtxBusinessID).(uuid.UUID)
	limit, offset, err := dto.ParsePagination(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var status *domain.OutboxStatus
	if raw := c.Query("status"); raw != "" {
		s := domain.OutboxStatus(raw)
		switch s {
		case domain.OutboxStatusPending, domain.OutboxStatusRetrying,
			domain.OutboxStatusDelivered, domain.OutboxStatusFailed:
			status = &s
		default:
			response.Error(c, apperror.Validation("status must be one of pending, retrying, delivered, failed"))
			return
		}
	}

	events, err := h.webhookSvc.ListDeliveries(c.Request.Context(), businessID, status, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.DeliveryResponse, 0, len(events))
	for i := range events {
		items = append(items, dto.FromOutboxEvent(&events[i]))
	}
	response.OK(c, dto.ListResponse[dto.DeliveryResponse]{Items: items, Limit: limit, Offset: offset})
}

// GetDelivery handles GET /v1/webhooks/deliveries/:id.
func (h *WebhookHandler) GetDelivery(c *gin.Context) {
	businessID := c.MustGet(middleware.CtxBusinessID).(uuid.UUID)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	event, err := h.webhookSvc.GetDelivery(c.Request.Context(), id, businessID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromOutboxEvent(event))
}

// RetryDelivery handles POST /v1/webhooks/deliveries/:id/retry.
func (h *WebhookHandler) RetryDelivery(c *gin.Context) {
	businessID := c.MustGet(middleware.CtxBusinessID).(uuid.UUID)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	event, err := h.webhookSvc.RetryDelivery(c.Request.Context(), id, businessID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromOutboxEvent(event))
}
