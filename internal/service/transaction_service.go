package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"payx-ledger/internal/core/domain"
	"payx-ledger/internal/core/ports"
	"payx-ledger/pkg/apperror"
	"payx-ledger/pkg/money"
)

const idempotencyTTL = 24 * time.Hour

// TransactionServiceImpl implements ports.TransactionService: the
// double-entry engine behind POST /transactions.
type TransactionServiceImpl struct {
	txRepo      ports.TransactionRepository
	accountRepo ports.AccountRepository
	ledgerRepo  ports.LedgerEntryRepository
	outboxRepo  ports.OutboxRepository
	idempCache  ports.IdempotencyCache
	transactor  ports.DBTransactor
	tracer      trace.Tracer
	log         zerolog.Logger
}

// NewTransactionService creates a new TransactionServiceImpl. idempCache may
// be nil when no Redis is configured.
func NewTransactionService(
	txRepo ports.TransactionRepository,
	accountRepo ports.AccountRepository,
	ledgerRepo ports.LedgerEntryRepository,
	outboxRepo ports.OutboxRepository,
	idempCache ports.IdempotencyCache,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *TransactionServiceImpl {
	return &TransactionServiceImpl{
		txRepo:      txRepo,
		accountRepo: accountRepo,
		ledgerRepo:  ledgerRepo,
		outboxRepo:  outboxRepo,
		idempCache:  idempCache,
		transactor:  transactor,
		tracer:      otel.Tracer("payx-ledger/transaction"),
		log:         log,
	}
}

// Submit executes one money movement under pessimistic row locks. replayed
// is true when a repeated idempotency key resolved to a prior transaction.
func (s *TransactionServiceImpl) Submit(ctx context.Context, in ports.SubmitTransactionInput) (*domain.Transaction, bool, error) {
	ctx, span := s.tracer.Start(ctx, "transaction.submit",
		trace.WithAttributes(attribute.String("transaction.type", string(in.Type))))
	defer span.End()

	if err := validateSubmit(in); err != nil {
		return nil, false, err
	}

	// Advisory replay probe. The authoritative check is the unique index at
	// insert time.
	if in.IdempotencyKey != nil {
		txn, err := s.probeIdempotencyKey(ctx, in)
		if err != nil {
			return nil, false, err
		}
		if txn != nil {
			return txn, true, nil
		}
	}

	txn, err := s.execute(ctx, in)
	if errors.Is(err, domain.ErrIdempotencyKeyTaken) {
		// A concurrent request with the same key won the insert race. Its
		// row is committed (we only see the conflict after its commit
		// releases the index entry), so the re-probe must find it.
		txn, err := s.probeIdempotencyKey(ctx, in)
		if err != nil {
			return nil, false, err
		}
		if txn == nil {
			return nil, false, apperror.Internal(fmt.Errorf("idempotency race: winner row not found"))
		}
		return txn, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("business_id", in.BusinessID.String()).
		Str("type", string(in.Type)).
		Str("amount", in.Amount.String()).
		Msg("transaction completed")

	s.cacheResult(ctx, in, txn)
	return txn, false, nil
}

// validateSubmit enforces the request-shape rules that need no database.
func validateSubmit(in ports.SubmitTransactionInput) error {
	if !in.Type.Valid() {
		return apperror.Validation("type must be one of credit, debit, transfer")
	}
	if !in.Amount.IsPositive() {
		return apperror.Validation("amount must be positive")
	}
	switch in.Type {
	case domain.TransactionTypeCredit:
		if in.DestinationAccountID == nil || in.SourceAccountID != nil {
			return apperror.Validation("credit requires destination_account_id only")
		}
	case domain.TransactionTypeDebit:
		if in.SourceAccountID == nil || in.DestinationAccountID != nil {
			return apperror.Validation("debit requires source_account_id only")
		}
	case domain.TransactionTypeTransfer:
		if in.SourceAccountID == nil || in.DestinationAccountID == nil {
			return apperror.Validation("transfer requires source and destination accounts")
		}
		if *in.SourceAccountID == *in.DestinationAccountID {
			return apperror.Validation("transfer source and destination must differ")
		}
	}
	return nil
}

// probeIdempotencyKey looks for a stored transaction under the request's
// key. Returns nil, nil when the key is unused; idempotency_conflict when it
// is bound to a different request fingerprint.
func (s *TransactionServiceImpl) probeIdempotencyKey(ctx context.Context, in ports.SubmitTransactionInput) (*domain.Transaction, error) {
	key := *in.IdempotencyKey

	if s.idempCache != nil {
		cached, err := s.idempCache.Get(ctx, cacheKey(in.BusinessID, key))
		if err != nil {
			s.log.Warn().Err(err).Msg("idempotency cache probe failed, falling through to DB")
		}
		if cached != nil {
			var txn domain.Transaction
			if err := json.Unmarshal(cached, &txn); err == nil {
				if !txn.Matches(in.Fingerprint()) {
					return nil, apperror.IdempotencyConflict(txn.ID)
				}
				return &txn, nil
			}
			s.log.Warn().Err(err).Msg("discarding malformed idempotency cache entry")
		}
	}

	txn, err := s.txRepo.GetByIdempotencyKey(ctx, in.BusinessID, key)
	if err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("idempotency probe: %w", err))
	}
	if txn == nil {
		return nil, nil
	}
	if !txn.Matches(in.Fingerprint()) {
		return nil, apperror.IdempotencyConflict(txn.ID)
	}
	return txn, nil
}

// execute runs the critical section: lock, validate, move, record.
func (s *TransactionServiceImpl) execute(ctx context.Context, in ports.SubmitTransactionInput) (*domain.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "transaction.critical_section")
	defer span.End()

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	accounts, err := s.lockAccounts(ctx, dbTx, in)
	if err != nil {
		return nil, err
	}

	for _, a := range accounts {
		if a.Currency != in.Amount.Currency {
			return nil, apperror.CurrencyMismatch(in.Amount.Currency, a.Currency)
		}
	}

	var source, dest *domain.Account
	if in.SourceAccountID != nil {
		source = accounts[*in.SourceAccountID]
	}
	if in.DestinationAccountID != nil {
		dest = accounts[*in.DestinationAccountID]
	}

	amount := in.Amount.Amount
	if source != nil && source.AvailableBalance.LessThan(amount) {
		return nil, apperror.InsufficientFunds(money.Format(source.AvailableBalance), money.Format(amount))
	}

	// Balances and available balances move in lockstep; holds are a future
	// concern.
	if source != nil {
		source.Balance = source.Balance.Sub(amount)
		source.AvailableBalance = source.AvailableBalance.Sub(amount)
		if _, err := s.accountRepo.UpdateBalance(ctx, dbTx, source.ID, source.Balance, source.AvailableBalance); err != nil {
			return nil, apperror.DatabaseError(fmt.Errorf("update source balance: %w", err))
		}
	}
	if dest != nil {
		dest.Balance = dest.Balance.Add(amount)
		dest.AvailableBalance = dest.AvailableBalance.Add(amount)
		if _, err := s.accountRepo.UpdateBalance(ctx, dbTx, dest.ID, dest.Balance, dest.AvailableBalance); err != nil {
			return nil, apperror.DatabaseError(fmt.Errorf("update destination balance: %w", err))
		}
	}

	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:                   uuid.New(),
		BusinessID:           in.BusinessID,
		IdempotencyKey:       in.IdempotencyKey,
		Type:                 in.Type,
		Status:               domain.TransactionStatusCompleted,
		SourceAccountID:      in.SourceAccountID,
		DestinationAccountID: in.DestinationAccountID,
		Amount:               amount,
		Currency:             in.Amount.Currency,
		Description:          in.Description,
		Metadata:             in.Metadata,
		CreatedAt:            now,
		CompletedAt:          &now,
	}

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		if errors.Is(err, domain.ErrIdempotencyKeyTaken) {
			return nil, err
		}
		return nil, apperror.DatabaseError(fmt.Errorf("create transaction: %w", err))
	}

	if source != nil {
		entry := &domain.LedgerEntry{
			ID:            uuid.New(),
			TransactionID: txn.ID,
			AccountID:     source.ID,
			EntryType:     domain.LedgerEntryDebit,
			Amount:        amount,
			BalanceAfter:  source.Balance,
			CreatedAt:     now,
		}
		if err := s.ledgerRepo.Create(ctx, dbTx, entry); err != nil {
			return nil, apperror.DatabaseError(fmt.Errorf("create debit entry: %w", err))
		}
	}
	if dest != nil {
		entry := &domain.LedgerEntry{
			ID:            uuid.New(),
			TransactionID: txn.ID,
			AccountID:     dest.ID,
			EntryType:     domain.LedgerEntryCredit,
			Amount:        amount,
			BalanceAfter:  dest.Balance,
			CreatedAt:     now,
		}
		if err := s.ledgerRepo.Create(ctx, dbTx, entry); err != nil {
			return nil, apperror.DatabaseError(fmt.Errorf("create credit entry: %w", err))
		}
	}

	event, err := buildOutboxEvent(txn, now)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("marshal webhook payload: %w", err))
	}
	if err := s.outboxRepo.Enqueue(ctx, dbTx, event); err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("enqueue outbox: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("commit tx: %w", err))
	}
	return txn, nil
}

// lockAccounts acquires row locks in lexicographic UUID order so that
// overlapping submits can never deadlock on account rows. Every locked
// account must belong to the requesting tenant.
func (s *TransactionServiceImpl) lockAccounts(ctx context.Context, dbTx pgx.Tx, in ports.SubmitTransactionInput) (map[uuid.UUID]*domain.Account, error) {
	ids := make([]uuid.UUID, 0, 2)
	if in.SourceAccountID != nil {
		ids = append(ids, *in.SourceAccountID)
	}
	if in.DestinationAccountID != nil {
		ids = append(ids, *in.DestinationAccountID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	accounts := make(map[uuid.UUID]*domain.Account, len(ids))
	for _, id := range ids {
		a, err := s.accountRepo.GetByIDForUpdate(ctx, dbTx, id)
		if err != nil {
			return nil, apperror.DatabaseError(fmt.Errorf("lock account: %w", err))
		}
		if a == nil || a.BusinessID != in.BusinessID {
			return nil, apperror.AccountNotFound(id)
		}
		accounts[id] = a
	}
	return accounts, nil
}

// buildOutboxEvent wraps the transaction view in the webhook envelope. The
// payload is serialized once here and later delivered byte-for-byte.
func buildOutboxEvent(txn *domain.Transaction, now time.Time) (*domain.OutboxEvent, error) {
	data, err := json.Marshal(txn.View())
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(domain.NewWebhookPayload(domain.EventTransactionCompleted, data))
	if err != nil {
		return nil, err
	}
	return &domain.OutboxEvent{
		ID:            uuid.New(),
		BusinessID:    txn.BusinessID,
		EventType:     domain.EventTransactionCompleted,
		Payload:       body,
		Status:        domain.OutboxStatusPending,
		Attempts:      0,
		MaxAttempts:   domain.DefaultMaxAttempts,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

// cacheResult stores the committed transaction for the cache-layer replay
// probe. Best-effort only.
func (s *TransactionServiceImpl) cacheResult(ctx context.Context, in ports.SubmitTransactionInput, txn *domain.Transaction) {
	if s.idempCache == nil || in.IdempotencyKey == nil {
		return
	}
	buf, err := json.Marshal(txn)
	if err != nil {
		return
	}
	if err := s.idempCache.Set(ctx, cacheKey(in.BusinessID, *in.IdempotencyKey), buf, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Msg("failed to cache idempotent response")
	}
}

func cacheKey(businessID uuid.UUID, key string) string {
	return businessID.String() + ":" + key
}

// Get fetches a transaction scoped to the owning tenant.
func (s *TransactionServiceImpl) Get(ctx context.Context, id, businessID uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, id, businessID)
	if err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.TransactionNotFound(id)
	}
	return txn, nil
}

// List fetches a page of the tenant's transactions.
func (s *TransactionServiceImpl) List(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	txns, err := s.txRepo.ListByBusiness(ctx, businessID, limit, offset)
	if err != nil {
		return nil, apperror.DatabaseError(fmt.Errorf("list transactions: %w", err))
	}
	return txns, nil
}
