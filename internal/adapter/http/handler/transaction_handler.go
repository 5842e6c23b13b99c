package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"payx-ledger/internal/adapter/http/dto"
	"payx-ledger/internal/adapter/http/middleware"
	"payx-ledger/internal/core/domain"
	"payx-ledger/internal/core/ports"
	"payx-ledger/pkg/apperror"
	"payx-ledger/pkg/money"
	"payx-ledger/pkg/response"
)

// TransactionHandler handles the core write and transaction reads.
type TransactionHandler struct {
	txSvc ports.TransactionService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(txSvc ports.TransactionService) *TransactionHandler {
	return &TransactionHandler{txSvc: txSvc}
}

// Create handles POST /v1/transactions. A repeated Idempotency-Key returns
// the original transaction with 200 instead of 201.
func (h *TransactionHandler) Create(c *gin.Context) {
	businessID := c.MustGet(middleware.CtxBusinessID).(uuid.UUID)

	idempotencyKey, err := dto.ParseIdempotencyKey(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	amount, err := money.Parse(req.Amount, req.Currency)
	if err != nil {
		response.Error(c, err)
		return
	}

	in := ports.SubmitTransactionInput{
		BusinessID:     businessID,
		IdempotencyKey: idempotencyKey,
		Type:           domain.TransactionType(req.Type),
		Amount:         amount,
		Description:    req.Description,
		Metadata:       req.Metadata,
	}
	if req.SourceAccountID != nil {
		id := uuid.MustParse(*req.SourceAccountID) // binding:"uuid" already validated
		in.SourceAccountID = &id
	}
	if req.DestinationAccountID != nil {
		id := uuid.MustParse(*req.DestinationAccountID)
		in.DestinationAccountID = &id
	}

	txn, replayed, err := h.txSvc.Submit(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	if replayed {
		response.OK(c, txn.View())
		return
	}
	response.Created(c, txn.View())
}

// Get handles GET /v1/transactions/:id.
func (h *TransactionHandler) Get(c *gin.Context) {
	businessID := c.MustGet(middleware.CtxBusinessID).(uuid.UUID)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	txn, err := h.txSvc.Get(c.Request.Context(), id, businessID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, txn.View())
}

// List handles GET /v1/transactions.
func (h *TransactionHandler) List(c *gin.Context) {
	businessID := c.MustGet(middleware.CtxBusinessID).(uuid.UUID)
	limit, offset, err := dto.ParsePagination(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	txns, err := h.txSvc.List(c.Request.Context(), businessID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]domain.TransactionView, 0, len(txns))
	for i := range txns {
		items = append(items, txns[i].View())
	}
	response.OK(c, dto.ListResponse[domain.TransactionView]{Items: items, Limit: limit, Offset: offset})
}
