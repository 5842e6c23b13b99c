package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"payx-ledger/internal/core/domain"
	"payx-ledger/internal/core/ports"
	"payx-ledger/internal/core/ports/mocks"
	"payx-ledger/pkg/apperror"
	"payx-ledger/pkg/money"
)

type engineTestDeps struct {
	svc         *TransactionServiceImpl
	txRepo      *mocks.MockTransactionRepository
	accountRepo *mocks.MockAccountRepository
	ledgerRepo  *mocks.MockLedgerEntryRepository
	outboxRepo  *mocks.MockOutboxRepository
	transactor  *mocks.MockDBTransactor
	ctrl        *gomock.Controller
}

func setupEngine(t *testing.T) *engineTestDeps {
	ctrl := gomock.NewController(t)
	d := &engineTestDeps{
		txRepo:      mocks.NewMockTransactionRepository(ctrl),
		accountRepo: mocks.NewMockAccountRepository(ctrl),
		ledgerRepo:  mocks.NewMockLedgerEntryRepository(ctrl),
		outboxRepo:  mocks.NewMockOutboxRepository(ctrl),
		transactor:  mocks.NewMockDBTransactor(ctrl),
		ctrl:        ctrl,
	}
	d.svc = NewTransactionService(
		d.txRepo, d.accountRepo, d.ledgerRepo, d.outboxRepo,
		nil, d.transactor, zerolog.Nop(),
	)
	return d
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

func usd(s string) money.Money {
	m, err := money.Parse(s, "USD")
	if err != nil {
		panic(err)
	}
	return m
}

func testAccount(id, businessID uuid.UUID, balance string) *domain.Account {
	b := decimal.RequireFromString(balance)
	return &domain.Account{
		ID:               id,
		BusinessID:       businessID,
		AccountType:      "checking",
		Currency:         "USD",
		Balance:          b,
		AvailableBalance: b,
		Version:          1,
	}
}

func TestTransactionService_Submit_Credit(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	businessID := uuid.New()
	destID := uuid.New()
	tx := &mockTx{}

	in := ports.SubmitTransactionInput{
		BusinessID:           businessID,
		Type:                 domain.TransactionTypeCredit,
		DestinationAccountID: &destID,
		Amount:               usd("100.00"),
	}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.accountRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, destID).
		Return(testAccount(destID, businessID, "50"), nil)
	d.accountRepo.EXPECT().UpdateBalance(gomock.Any(), tx, destID, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ pgx.Tx, _ uuid.UUID, balance, available decimal.Decimal) (int64, error) {
			assert.True(t, balance.Equal(decimal.RequireFromString("150")))
			assert.True(t, available.Equal(decimal.RequireFromString("150")))
			return 2, nil
		})
	d.txRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).Return(nil)
	d.ledgerRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ pgx.Tx, e *domain.LedgerEntry) error {
			assert.Equal(t, domain.LedgerEntryCredit, e.EntryType)
			assert.Equal(t, destID, e.AccountID)
			assert.True(t, e.BalanceAfter.Equal(decimal.RequireFromString("150")))
			return nil
		})
	d.outboxRepo.EXPECT().Enqueue(gomock.Any(), tx, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ pgx.Tx, e *domain.OutboxEvent) error {
			assert.Equal(t, domain.EventTransactionCompleted, e.EventType)
			assert.Equal(t, domain.OutboxStatusPending, e.Status)
			assert.Equal(t, domain.DefaultMaxAttempts, e.MaxAttempts)
			var payload domain.WebhookPayload
			require.NoError(t, json.Unmarshal(e.Payload, &payload))
			assert.Equal(t, "transaction.completed", payload.EventType)
			return nil
		})

	txn, replayed, err := d.svc.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)
	assert.NotNil(t, txn.CompletedAt)
}

func TestTransactionService_Submit_Transfer_LockOrder(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	businessID := uuid.New()
	sourceID := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")
	destID := uuid.MustParse("00000000-0000-0000-0000-00000000ffff")
	tx := &mockTx{}

	in := ports.SubmitTransactionInput{
		BusinessID:           businessID,
		Type:                 domain.TransactionTypeTransfer,
		SourceAccountID:      &sourceID,
		DestinationAccountID: &destID,
		Amount:               usd("100.00"),
	}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	// Destination sorts before source; locks must be acquired in that order.
	gomock.InOrder(
		d.accountRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, destID).
			Return(testAccount(destID, businessID, "0"), nil),
		d.accountRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, sourceID).
			Return(testAccount(sourceID, businessID, "1000"), nil),
	)
	d.accountRepo.EXPECT().UpdateBalance(gomock.Any(), tx, sourceID, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ pgx.Tx, _ uuid.UUID, balance, _ decimal.Decimal) (int64, error) {
			assert.True(t, balance.Equal(decimal.RequireFromString("900")))
			return 2, nil
		})
	d.accountRepo.EXPECT().UpdateBalance(gomock.Any(), tx, destID, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ pgx.Tx, _ uuid.UUID, balance, _ decimal.Decimal) (int64, error) {
			assert.True(t, balance.Equal(decimal.RequireFromString("100")))
			return 2, nil
		})
	d.txRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).Return(nil)

	var entries []domain.LedgerEntryType
	d.ledgerRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).Times(2).
		DoAndReturn(func(_ context.Context, _ pgx.Tx, e *domain.LedgerEntry) error {
			entries = append(entries, e.EntryType)
			return nil
		})
	d.outboxRepo.EXPECT().Enqueue(gomock.Any(), tx, gomock.Any()).Return(nil)

	_, replayed, err := d.svc.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, []domain.LedgerEntryType{domain.LedgerEntryDebit, domain.LedgerEntryCredit}, entries)
}

func TestTransactionService_Submit_InsufficientFunds(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	businessID := uuid.New()
	sourceID := uuid.New()
	tx := &mockTx{}

	in := ports.SubmitTransactionInput{
		BusinessID:      businessID,
		Type:            domain.TransactionTypeDebit,
		SourceAccountID: &sourceID,
		Amount:          usd("100.00"),
	}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.accountRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, sourceID).
		Return(testAccount(sourceID, businessID, "40.50"), nil)

	_, _, err := d.svc.Submit(context.Background(), in)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "insufficient_funds", appErr.Code)
	assert.Equal(t, 422, appErr.HTTPStatus)
	assert.Equal(t, "40.5000", appErr.Details["available"])
	assert.Equal(t, "100.0000", appErr.Details["requested"])
}

func TestTransactionService_Submit_CurrencyMismatch(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	businessID := uuid.New()
	destID := uuid.New()
	tx := &mockTx{}

	in := ports.SubmitTransactionInput{
		BusinessID:           businessID,
		Type:                 domain.TransactionTypeCredit,
		DestinationAccountID: &destID,
		Amount:               usd("10.00"),
	}

	account := testAccount(destID, businessID, "0")
	account.Currency = "EUR"

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.accountRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, destID).Return(account, nil)

	_, _, err := d.svc.Submit(context.Background(), in)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "currency_mismatch", appErr.Code)
}

func TestTransactionService_Submit_TenantScoping(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	destID := uuid.New()
	tx := &mockTx{}

	in := ports.SubmitTransactionInput{
		BusinessID:           uuid.New(),
		Type:                 domain.TransactionTypeCredit,
		DestinationAccountID: &destID,
		Amount:               usd("10.00"),
	}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	// The account exists but belongs to another tenant.
	d.accountRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, destID).
		Return(testAccount(destID, uuid.New(), "0"), nil)

	_, _, err := d.svc.Submit(context.Background(), in)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "account_not_found", appErr.Code)
}

func TestTransactionService_Submit_Validation(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	businessID := uuid.New()
	accountID := uuid.New()

	tests := []struct {
		name string
		in   ports.SubmitTransactionInput
	}{
		{"unknown type", ports.SubmitTransactionInput{
			BusinessID: businessID, Type: "refund",
			DestinationAccountID: &accountID, Amount: usd("1.00"),
		}},
		{"credit with source", ports.SubmitTransactionInput{
			BusinessID: businessID, Type: domain.TransactionTypeCredit,
			SourceAccountID: &accountID, DestinationAccountID: &accountID, Amount: usd("1.00"),
		}},
		{"debit without source", ports.SubmitTransactionInput{
			BusinessID: businessID, Type: domain.TransactionTypeDebit, Amount: usd("1.00"),
		}},
		{"transfer to self", ports.SubmitTransactionInput{
			BusinessID: businessID, Type: domain.TransactionTypeTransfer,
			SourceAccountID: &accountID, DestinationAccountID: &accountID, Amount: usd("1.00"),
		}},
		{"zero amount", ports.SubmitTransactionInput{
			BusinessID: businessID, Type: domain.TransactionTypeCredit,
			DestinationAccountID: &accountID, Amount: usd("0"),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := d.svc.Submit(context.Background(), tt.in)
			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, "validation_error", appErr.Code)
		})
	}
}

func TestTransactionService_Submit_IdempotentReplay(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	businessID := uuid.New()
	destID := uuid.New()
	key := "order-42"
	now := time.Now().UTC()

	in := ports.SubmitTransactionInput{
		BusinessID:           businessID,
		IdempotencyKey:       &key,
		Type:                 domain.TransactionTypeCredit,
		DestinationAccountID: &destID,
		Amount:               usd("100.00"),
	}

	stored := &domain.Transaction{
		ID:                   uuid.New(),
		BusinessID:           businessID,
		IdempotencyKey:       &key,
		Type:                 domain.TransactionTypeCredit,
		Status:               domain.TransactionStatusCompleted,
		DestinationAccountID: &destID,
		Amount:               decimal.RequireFromString("100.00"),
		Currency:             "USD",
		CreatedAt:            now,
		CompletedAt:          &now,
	}

	d.txRepo.EXPECT().GetByIdempotencyKey(gomock.Any(), businessID, key).Return(stored, nil)

	txn, replayed, err := d.svc.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, stored.ID, txn.ID)
}

func TestTransactionService_Submit_IdempotencyConflict(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	businessID := uuid.New()
	destID := uuid.New()
	key := "order-42"

	in := ports.SubmitTransactionInput{
		BusinessID:           businessID,
		IdempotencyKey:       &key,
		Type:                 domain.TransactionTypeCredit,
		DestinationAccountID: &destID,
		Amount:               usd("100.00"),
	}

	// Same key, different amount.
	stored := &domain.Transaction{
		ID:                   uuid.New(),
		BusinessID:           businessID,
		Type:                 domain.TransactionTypeCredit,
		DestinationAccountID: &destID,
		Amount:               decimal.RequireFromString("999.00"),
		Currency:             "USD",
	}

	d.txRepo.EXPECT().GetByIdempotencyKey(gomock.Any(), businessID, key).Return(stored, nil)

	_, _, err := d.svc.Submit(context.Background(), in)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "idempotency_conflict", appErr.Code)
	assert.Equal(t, 409, appErr.HTTPStatus)
}

func TestTransactionService_Submit_InsertRaceReplays(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	businessID := uuid.New()
	destID := uuid.New()
	key := "order-42"
	tx := &mockTx{}

	in := ports.SubmitTransactionInput{
		BusinessID:           businessID,
		IdempotencyKey:       &key,
		Type:                 domain.TransactionTypeCredit,
		DestinationAccountID: &destID,
		Amount:               usd("100.00"),
	}

	winner := &domain.Transaction{
		ID:                   uuid.New(),
		BusinessID:           businessID,
		Type:                 domain.TransactionTypeCredit,
		DestinationAccountID: &destID,
		Amount:               decimal.RequireFromString("100.00"),
		Currency:             "USD",
	}

	// First probe sees nothing; a concurrent request commits the same key
	// before our insert.
	gomock.InOrder(
		d.txRepo.EXPECT().GetByIdempotencyKey(gomock.Any(), businessID, key).Return(nil, nil),
		d.txRepo.EXPECT().GetByIdempotencyKey(gomock.Any(), businessID, key).Return(winner, nil),
	)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.accountRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, destID).
		Return(testAccount(destID, businessID, "0"), nil)
	d.accountRepo.EXPECT().UpdateBalance(gomock.Any(), tx, destID, gomock.Any(), gomock.Any()).Return(int64(2), nil)
	d.txRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).Return(domain.ErrIdempotencyKeyTaken)

	txn, replayed, err := d.svc.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, winner.ID, txn.ID)
}

func TestTransactionService_Get_NotFound(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	id := uuid.New()
	businessID := uuid.New()
	d.txRepo.EXPECT().GetByID(gomock.Any(), id, businessID).Return(nil, nil)

	_, err := d.svc.Get(context.Background(), id, businessID)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "transaction_not_found", appErr.Code)
}

func TestTransactionService_Submit_BeginFailure(t *testing.T) {
	d := setupEngine(t)
	defer d.ctrl.Finish()

	destID := uuid.New()
	in := ports.SubmitTransactionInput{
		BusinessID:           uuid.New(),
		Type:                 domain.TransactionTypeCredit,
		DestinationAccountID: &destID,
		Amount:               usd("10.00"),
	}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(nil, errors.New("pool exhausted"))

	_, _, err := d.svc.Submit(context.Background(), in)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "database_error", appErr.Code)
}
