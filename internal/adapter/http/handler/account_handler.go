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

// AccountHandler handles account endpoints.
type AccountHandler struct {
	accountSvc ports.AccountService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc ports.AccountService) *AccountHandler {
	return &AccountHandler{accountSvc: accountSvc}
}

// Create handles POST /v1/accounts.
func (h *AccountHandler) Create(c *gin.Context) {
	businessID := c.MustGet(middleware.CtxBusinessID).(uuid.UUID)

	var req dto.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	in := ports.CreateAccountInput{
		BusinessID:  businessID,
		AccountType: req.AccountType,
		Currency:    req.Currency,
	}
	if req.InitialBalance != nil {
		seed, err := money.Parse(*req.InitialBalance, req.Currency)
		if err != nil {
			response.Error(c, err)
			return
		}
		in.InitialBalance = &seed
	}

	account, err := h.accountSvc.Create(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, account.View())
}

// Get handles GET /v1/accounts/:id.
func (h *AccountHandler) Get(c *gin.Context) {
	businessID := c.MustGet(middleware.CtxBusinessID).(uuid.UUID)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	account, err := h.accountSvc.Get(c.Request.Context(), id, businessID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, account.View())
}

// List handles GET /v1/accounts.
func (h *AccountHandler) List(c *gin.Context) {
	businessID := c.MustGet(middleware.CtxBusinessID).(uuid.UUID)
	limit, offset, err := dto.ParsePagination(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	accounts, err := h.accountSvc.List(c.Request.Context(), businessID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]domain.AccountView, 0, len(accounts))
	for i := range accounts {
		items = append(items, accounts[i].View())
	}
	response.OK(c, dto.ListResponse[domain.AccountView]{Items: items, Limit: limit, Offset: offset})
}

// ListTransactions handles GET /v1/accounts/:id/transactions. Pages
// newest-first; cursor is the id of the last row of the previous page.
func (h *AccountHandler) ListTransactions(c *gin.Context) {
	businessID := c.MustGet(middleware.CtxBusinessID).(uuid.UUID)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	limit, _, err := dto.ParsePagination(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var cursor *uuid.UUID
	if raw := c.Query("cursor"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			response.Error(c, apperror.Validation("cursor must be a UUID"))
			return
		}
		cursor = &parsed
	}

	txns, err := h.accountSvc.ListTransactions(c.Request.Context(), businessID, id, cursor, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]domain.TransactionView, 0, len(txns))
	for i := range txns {
		items = append(items, txns[i].View())
	}
	resp := dto.CursorListResponse[domain.TransactionView]{Items: items}
	if len(txns) == limit {
		last := txns[len(txns)-1].ID
		resp.NextCursor = &last
	}
	response.OK(c, resp)
}
