package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"payx-ledger/internal/core/domain"
	"payx-ledger/internal/core/ports"
	"payx-ledger/pkg/apperror"
)

// AccountServiceImpl implements ports.AccountService.
type AccountServiceImpl struct {
	accountRepo ports.AccountRepository
	txRepo      ports.TransactionRepository
	log         zerolog.Logger
}

// NewAccountService creates a new AccountServiceImpl.
func NewAccountService(
	accountRepo ports.AccountRepository,
	txRepo ports.TransactionRepository,
	log zerolog.Logger,
) *AccountServiceImpl {
	return &AccountServiceImpl{
		accountRepo: accountRepo,
		txRepo:      txRepo,
		log:         log,
	}
}

// Create opens an account, optionally seeded with an initial balance. The
// seed is a provisioning convenience and writes no ledger entries.
func (s *AccountServiceImpl) Create(ctx context.Context, in ports.CreateAccountInput) (*domain.Account, error) {
	balance := decimal.Zero
	if in.InitialBalance != nil {
		if in.InitialBalance.Currency != in.Currency {
			return nil, apperror.CurrencyMismatch(in.Currency, in.InitialBalance.Currency)
		}
		if in.InitialBalance.Amount.IsNegative() {
			return nil, apperror.Validation("initial_balance must not be negative")
		}
		balance = in.InitialBalance.Amount
	}

	accountType := in.AccountType
	if accountType == "" {
		accountType = "checking"
	}

	now := time.Now().UTC()
	account := &domain.Account{
		ID:               uuid.New(),
		BusinessID:       in.BusinessID,
		AccountType:      accountType,
		Currency:         in.Currency,
		Balance:          balance,
		AvailableBalance: balance,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("create account: %w", err))
	}

	s.log.Info().
		Str("account_id", account.ID.String()).
		Str("business_id", in.BusinessID.String()).
		Str("currency", in.Currency).
		Msg("account created")
	return account, nil
}

// Get fetches an account scoped to the owning tenant.
func (s *AccountServiceImpl) Get(ctx context.Context, id, businessID uuid.UUID) (*domain.Account, error) {
	account, err := s.accountRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("get account: %w", err))
	}
	if account == nil || account.BusinessID != businessID {
		return nil, apperror.AccountNotFound(id)
	}
	return account, nil
}

// List fetches a page of the tenant's accounts.
func (s *AccountServiceImpl) List(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]domain.Account, error) {
	accounts, err := s.accountRepo.ListByBusiness(ctx, businessID, limit, offset)
	if err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("list accounts: %w", err))
	}
	return accounts, nil
}

// ListTransactions pages an account's history newest-first by cursor. The
// account must belong to the tenant.
func (s *AccountServiceImpl) ListTransactions(ctx context.Context, businessID, accountID uuid.UUID, cursor *uuid.UUID, limit int) ([]domain.Transaction, error) {
	if _, err := s.Get(ctx, accountID, businessID); err != nil {
		return nil, err
	}
	txns, err := s.txRepo.ListByAccount(ctx, accountID, cursor, limit)
	if err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("list account transactions: %w", err))
	}
	return txns, nil
}
