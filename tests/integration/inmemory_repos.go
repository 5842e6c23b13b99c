package integration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"payx-ledger/internal/core/domain"
)

// In-memory implementations of the storage ports, backing the full HTTP
// stack in these tests. memTx models row locking: GetByIDForUpdate blocks
// until the holder's transaction commits or rolls back, so concurrent
// submits serialize the same way they do on the real database.

type memTx struct {
	pgx.Tx

	mu    sync.Mutex
	held  []*sync.Mutex
	undo  []func()
	ended bool
}

func (t *memTx) hold(l *sync.Mutex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.held = append(t.held, l)
}

// addUndo registers a compensating write, run in reverse order on rollback.
// Repos register one per write made inside the engine's critical section.
func (t *memTx) addUndo(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undo = append(t.undo, fn)
}

func (t *memTx) Commit(ctx context.Context) error   { t.finish(false); return nil }
func (t *memTx) Rollback(ctx context.Context) error { t.finish(true); return nil }

func (t *memTx) finish(rollback bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return
	}
	t.ended = true
	if rollback {
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
	}
	t.undo = nil
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
	t.held = nil
}

func addUndo(tx pgx.Tx, fn func()) {
	if mtx, ok := tx.(*memTx); ok {
		mtx.addUndo(fn)
	}
}

type memTransactor struct{}

func (memTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &memTx{}, nil
}

// --- businesses ---

type memBusinessRepo struct {
	mu         sync.RWMutex
	businesses map[uuid.UUID]*domain.Business
}

func newMemBusinessRepo() *memBusinessRepo {
	return &memBusinessRepo{businesses: make(map[uuid.UUID]*domain.Business)}
}

func (r *memBusinessRepo) Create(ctx context.Context, b *domain.Business) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *b
	r.businesses[b.ID] = &cp
	return nil
}

func (r *memBusinessRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Business, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.businesses[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (r *memBusinessRepo) Update(ctx context.Context, b *domain.Business) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.businesses[b.ID]; !ok {
		return fmt.Errorf("business not found")
	}
	cp := *b
	r.businesses[b.ID] = &cp
	return nil
}

func (r *memBusinessRepo) SetWebhookEndpoint(ctx context.Context, id uuid.UUID, url *string, secret *string) (*domain.Business, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.businesses[id]
	if !ok {
		return nil, nil
	}
	b.WebhookURL = copyStr(url)
	b.WebhookSecret = copyStr(secret)
	b.UpdatedAt = time.Now().UTC()
	cp := *b
	return &cp, nil
}

// --- api keys ---

type memAPIKeyRepo struct {
	mu   sync.RWMutex
	keys map[uuid.UUID]*domain.APIKey
}

func newMemAPIKeyRepo() *memAPIKeyRepo {
	return &memAPIKeyRepo{keys: make(map[uuid.UUID]*domain.APIKey)}
}

func (r *memAPIKeyRepo) Create(ctx context.Context, key *domain.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *key
	r.keys[key.ID] = &cp
	return nil
}

func (r *memAPIKeyRepo) GetByPrefix(ctx context.Context, prefix string) (*domain.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, k := range r.keys {
		if k.KeyPrefix == prefix && k.RevokedAt == nil {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memAPIKeyRepo) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.keys[id]; ok {
		k.LastUsedAt = &at
	}
	return nil
}

// --- accounts ---

type memAccountRepo struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*domain.Account
	rowLocks map[uuid.UUID]*sync.Mutex
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{
		accounts: make(map[uuid.UUID]*domain.Account),
		rowLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (r *memAccountRepo) Create(ctx context.Context, a *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.accounts[a.ID] = &cp
	r.rowLocks[a.ID] = &sync.Mutex{}
	return nil
}

func (r *memAccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

// GetByIDForUpdate blocks on the account's row lock and hands it to the
// transaction; the snapshot is taken after the lock is won.
func (r *memAccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Account, error) {
	r.mu.RLock()
	lock, ok := r.rowLocks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	lock.Lock()
	if mtx, isMem := tx.(*memTx); isMem {
		mtx.hold(lock)
	} else {
		lock.Unlock()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := *r.accounts[id]
	return &cp, nil
}

func (r *memAccountRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance, available decimal.Decimal) (int64, error) {
	if balance.IsNegative() || available.IsNegative() {
		// Mirrors the schema's CHECK constraints.
		return 0, fmt.Errorf("balance check violated")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return 0, fmt.Errorf("account not found")
	}
	prev := *a
	addUndo(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		*r.accounts[id] = prev
	})
	a.Balance = balance
	a.AvailableBalance = available
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	return a.Version, nil
}

func (r *memAccountRepo) ListByBusiness(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Account
	for _, a := range r.accounts {
		if a.BusinessID == businessID {
			out = append(out, *a)
		}
	}
	return page(out, limit, offset), nil
}

// --- transactions ---

type memTransactionRepo struct {
	mu    sync.RWMutex
	rows  map[uuid.UUID]*domain.Transaction
	order []uuid.UUID
}

func newMemTransactionRepo() *memTransactionRepo {
	return &memTransactionRepo{rows: make(map[uuid.UUID]*domain.Transaction)}
}

// Create enforces the partial unique index on (business_id,
// idempotency_key), surfacing collisions the way the real repository does.
func (r *memTransactionRepo) Create(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if txn.IdempotencyKey != nil {
		for _, existing := range r.rows {
			if existing.BusinessID == txn.BusinessID &&
				existing.IdempotencyKey != nil && *existing.IdempotencyKey == *txn.IdempotencyKey {
				return domain.ErrIdempotencyKeyTaken
			}
		}
	}
	cp := *txn
	r.rows[txn.ID] = &cp
	r.order = append(r.order, txn.ID)
	id := txn.ID
	addUndo(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.rows, id)
		for i, o := range r.order {
			if o == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	})
	return nil
}

func (r *memTransactionRepo) GetByID(ctx context.Context, id, businessID uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.rows[id]
	if !ok || t.BusinessID != businessID {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *memTransactionRepo) GetByIdempotencyKey(ctx context.Context, businessID uuid.UUID, key string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.rows {
		if t.BusinessID == businessID && t.IdempotencyKey != nil && *t.IdempotencyKey == key {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memTransactionRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, cursor *uuid.UUID, limit int) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Transaction
	skipping := cursor != nil
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		t := r.rows[r.order[i]]
		if skipping {
			if t.ID == *cursor {
				skipping = false
			}
			continue
		}
		if touchesAccount(t, accountID) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *memTransactionRepo) ListByBusiness(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Transaction
	for i := len(r.order) - 1; i >= 0; i-- {
		t := r.rows[r.order[i]]
		if t.BusinessID == businessID {
			out = append(out, *t)
		}
	}
	return page(out, limit, offset), nil
}

func (r *memTransactionRepo) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

func touchesAccount(t *domain.Transaction, accountID uuid.UUID) bool {
	if t.SourceAccountID != nil && *t.SourceAccountID == accountID {
		return true
	}
	return t.DestinationAccountID != nil && *t.DestinationAccountID == accountID
}

// --- ledger entries ---

type memLedgerRepo struct {
	mu      sync.RWMutex
	entries []domain.LedgerEntry
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{}
}

func (r *memLedgerRepo) Create(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	id := entry.ID
	addUndo(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i := range r.entries {
			if r.entries[i].ID == id {
				r.entries = append(r.entries[:i], r.entries[i+1:]...)
				break
			}
		}
	})
	return nil
}

func (r *memLedgerRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.LedgerEntry
	for _, e := range r.entries {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memLedgerRepo) all() []domain.LedgerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.LedgerEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// --- webhook outbox ---

type memOutboxRepo struct {
	mu    sync.RWMutex
	rows  map[uuid.UUID]*domain.OutboxEvent
	order []uuid.UUID
}

func newMemOutboxRepo() *memOutboxRepo {
	return &memOutboxRepo{rows: make(map[uuid.UUID]*domain.OutboxEvent)}
}

func (r *memOutboxRepo) Enqueue(ctx context.Context, tx pgx.Tx, e *domain.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.rows[e.ID] = &cp
	r.order = append(r.order, e.ID)
	id := e.ID
	addUndo(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.rows, id)
		for i, o := range r.order {
			if o == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	})
	return nil
}

func (r *memOutboxRepo) ClaimBatch(ctx context.Context, tx pgx.Tx, limit int, now time.Time) ([]domain.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.OutboxEvent
	for _, id := range r.order {
		if len(out) >= limit {
			break
		}
		e := r.rows[id]
		if (e.Status == domain.OutboxStatusPending || e.Status == domain.OutboxStatusRetrying) &&
			!e.NextAttemptAt.After(now) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *memOutboxRepo) MarkDelivered(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("outbox row not found")
	}
	e.Status = domain.OutboxStatusDelivered
	e.Attempts++
	e.ProcessedAt = &at
	return nil
}

func (r *memOutboxRepo) ScheduleRetry(ctx context.Context, tx pgx.Tx, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("outbox row not found")
	}
	e.Status = domain.OutboxStatusRetrying
	e.Attempts = attempts
	e.NextAttemptAt = nextAttemptAt
	e.LastError = &lastError
	return nil
}

func (r *memOutboxRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("outbox row not found")
	}
	e.Status = domain.OutboxStatusFailed
	e.Attempts++
	e.LastError = &lastError
	return nil
}

func (r *memOutboxRepo) Rearm(ctx context.Context, id, businessID uuid.UUID) (*domain.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok || e.BusinessID != businessID || e.Status != domain.OutboxStatusFailed {
		return nil, nil
	}
	e.Status = domain.OutboxStatusPending
	e.Attempts = 0
	e.NextAttemptAt = time.Now().UTC()
	e.LastError = nil
	cp := *e
	return &cp, nil
}

func (r *memOutboxRepo) GetByID(ctx context.Context, id, businessID uuid.UUID) (*domain.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rows[id]
	if !ok || e.BusinessID != businessID {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *memOutboxRepo) ListByBusiness(ctx context.Context, businessID uuid.UUID, status *domain.OutboxStatus, limit, offset int) ([]domain.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.OutboxEvent
	for i := len(r.order) - 1; i >= 0; i-- {
		e := r.rows[r.order[i]]
		if e.BusinessID != businessID {
			continue
		}
		if status != nil && e.Status != *status {
			continue
		}
		out = append(out, *e)
	}
	return page(out, limit, offset), nil
}

// makeDue rewinds a row's next_attempt_at so the claim query sees it
// without the test sleeping through real backoff.
func (r *memOutboxRepo) makeDue(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.rows[id]; ok {
		e.NextAttemptAt = time.Now().UTC().Add(-time.Second)
	}
}

// --- rate limit windows ---

type windowKey struct {
	apiKeyID uuid.UUID
	start    int64
}

type memRateLimitRepo struct {
	mu      sync.Mutex
	windows map[windowKey]int
}

func newMemRateLimitRepo() *memRateLimitRepo {
	return &memRateLimitRepo{windows: make(map[windowKey]int)}
}

func (r *memRateLimitRepo) IncrementWindow(ctx context.Context, apiKeyID uuid.UUID, windowStart time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := windowKey{apiKeyID: apiKeyID, start: windowStart.Unix()}
	r.windows[k]++
	return r.windows[k], nil
}

func (r *memRateLimitRepo) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for k := range r.windows {
		if k.start < cutoff.Unix() {
			delete(r.windows, k)
			deleted++
		}
	}
	return deleted, nil
}

// --- helpers ---

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
