package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"payx-ledger/internal/adapter/http/dto"
	"payx-ledger/internal/adapter/http/middleware"
	"payx-ledger/internal/core/ports"
	"payx-ledger/pkg/apperror"
	"payx-ledger/pkg/response"
)

// BusinessHandler handles tenant endpoints.
type BusinessHandler struct {
	businessSvc ports.BusinessService
}

// NewBusinessHandler creates a new BusinessHandler.
func NewBusinessHandler(businessSvc ports.BusinessService) *BusinessHandler {
	return &BusinessHandler{businessSvc: businessSvc}
}

// Create handles POST /v1/businesses. Public: this is how a tenant obtains
// its first credential.
func (h *BusinessHandler) Create(c *gin.Context) {
	var req dto.CreateBusinessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.businessSvc.Create(c.Request.Context(), ports.CreateBusinessInput{
		Name:       req.Name,
		Email:      req.Email,
		WebhookURL: req.WebhookURL,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.CreateBusinessResponse{
		Business:      dto.FromBusiness(result.Business),
		APIKey:        result.RawKey,
		KeyPrefix:     result.APIKey.KeyPrefix,
		WebhookSecret: result.WebhookSecret,
	})
}

// Get handles GET /v1/businesses/:id. The path id must be the authenticated
// tenant; any other id reads as not found.
func (h *BusinessHandler) Get(c *gin.Context) {
	id, ok := h.ownPathID(c)
	if !ok {
		return
	}

	business, err := h.businessSvc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromBusiness(business))
}

// Update handles PUT /v1/businesses/:id.
func (h *BusinessHandler) Update(c *gin.Context) {
	id, ok := h.ownPathID(c)
	if !ok {
		return
	}

	var req dto.UpdateBusinessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	business, err := h.businessSvc.Update(c.Request.Context(), id, ports.UpdateBusinessInput{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromBusiness(business))
}

// ownPathID parses :id and verifies it names the authenticated tenant.
func (h *BusinessHandler) ownPathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return uuid.Nil, false
	}
	businessID := c.MustGet(middleware.CtxBusinessID).(uuid.UUID)
	if id != businessID {
		response.Error(c, apperror.BusinessNotFound(id))
		return uuid.Nil, false
	}
	return id, true
}
