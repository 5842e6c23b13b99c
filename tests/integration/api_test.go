package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpHandler "payx-ledger/internal/adapter/http/handler"
	redisStorage "payx-ledger/internal/adapter/storage/redis"
	"payx-ledger/internal/core/domain"
	"payx-ledger/internal/service"
	"payx-ledger/pkg/logger"
	"payx-ledger/pkg/money"
)

// testApp is the full application stack on in-memory storage: real
// middleware, handlers, services and the Redis idempotency cache (miniredis),
// reachable over a live HTTP listener.
type testApp struct {
	server *httptest.Server

	businessRepo *memBusinessRepo
	accountRepo  *memAccountRepo
	txRepo       *memTransactionRepo
	ledgerRepo   *memLedgerRepo
	outboxRepo   *memOutboxRepo
	rateRepo     *memRateLimitRepo
	transactor   *memTransactor
}

func newTestApp(t *testing.T) *testApp {
	return newTestAppWithRate(t, 10000)
}

func newTestAppWithRate(t *testing.T, ratePerMinute int) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)

	app := &testApp{
		businessRepo: newMemBusinessRepo(),
		accountRepo:  newMemAccountRepo(),
		txRepo:       newMemTransactionRepo(),
		ledgerRepo:   newMemLedgerRepo(),
		outboxRepo:   newMemOutboxRepo(),
		rateRepo:     newMemRateLimitRepo(),
		transactor:   &memTransactor{},
	}

	apiKeyRepo := newMemAPIKeyRepo()
	hashSvc := service.NewArgon2HashService()
	log := logger.New("error", false)

	businessSvc := service.NewBusinessService(app.businessRepo, apiKeyRepo, hashSvc, ratePerMinute, log)
	accountSvc := service.NewAccountService(app.accountRepo, app.txRepo, log)
	transactionSvc := service.NewTransactionService(
		app.txRepo, app.accountRepo, app.ledgerRepo, app.outboxRepo,
		idempotencyCache, app.transactor, log,
	)
	webhookSvc := service.NewWebhookService(app.outboxRepo, log)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		BusinessSvc:    businessSvc,
		AccountSvc:     accountSvc,
		TransactionSvc: transactionSvc,
		WebhookSvc:     webhookSvc,
		APIKeyRepo:     apiKeyRepo,
		RateLimitRepo:  app.rateRepo,
		HashSvc:        hashSvc,
		Logger:         log,
	})

	app.server = httptest.NewServer(router)
	t.Cleanup(app.server.Close)
	return app
}

// newWorker builds a delivery worker over the same storage as the app.
func (a *testApp) newWorker() *service.WebhookWorker {
	return service.NewWebhookWorker(
		a.transactor, a.outboxRepo, a.businessRepo, a.rateRepo,
		service.NewHMACSignatureService(),
		&http.Client{Timeout: 5 * time.Second},
		10,
		logger.New("error", false),
	)
}

// do sends a request and returns the status code and raw body.
func (a *testApp) do(t *testing.T, method, path, apiKey string, body string, headers map[string]string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, a.server.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

type tenant struct {
	ID            string
	APIKey        string
	WebhookSecret string
}

func createTenant(t *testing.T, app *testApp, name string) tenant {
	t.Helper()
	body := fmt.Sprintf(`{"name":%q,"email":"ops@example.com"}`, name)
	status, raw := app.do(t, http.MethodPost, "/v1/businesses", "", body, nil)
	require.Equal(t, http.StatusCreated, status, "create business: %s", raw)

	var resp struct {
		Business struct {
			ID string `json:"id"`
		} `json:"business"`
		APIKey        string `json:"api_key"`
		WebhookSecret string `json:"webhook_secret"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotEmpty(t, resp.APIKey)
	return tenant{ID: resp.Business.ID, APIKey: resp.APIKey, WebhookSecret: resp.WebhookSecret}
}

func createAccount(t *testing.T, app *testApp, tn tenant, currency, seed string) string {
	t.Helper()
	body := fmt.Sprintf(`{"currency":%q}`, currency)
	if seed != "" {
		body = fmt.Sprintf(`{"currency":%q,"initial_balance":%q}`, currency, seed)
	}
	status, raw := app.do(t, http.MethodPost, "/v1/accounts", tn.APIKey, body, nil)
	require.Equal(t, http.StatusCreated, status, "create account: %s", raw)

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp.ID
}

func accountBalance(t *testing.T, app *testApp, tn tenant, id string) string {
	t.Helper()
	status, raw := app.do(t, http.MethodGet, "/v1/accounts/"+id, tn.APIKey, "", nil)
	require.Equal(t, http.StatusOK, status, "get account: %s", raw)

	var resp struct {
		Balance string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp.Balance
}

func transferBody(source, dest, amount string) string {
	return fmt.Sprintf(`{"type":"transfer","source_account_id":%q,"destination_account_id":%q,"amount":%q,"currency":"USD"}`,
		source, dest, amount)
}

func TestIntegration_Health(t *testing.T) {
	app := newTestApp(t)

	status, raw := app.do(t, http.MethodGet, "/v1/health", "", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}

func TestIntegration_AuthLifecycle(t *testing.T) {
	app := newTestApp(t)
	tn := createTenant(t, app, "Auth Co")

	status, raw := app.do(t, http.MethodGet, "/v1/businesses/"+tn.ID, tn.APIKey, "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), `"Auth Co"`)

	// No credential at all
	status, _ = app.do(t, http.MethodGet, "/v1/businesses/"+tn.ID, "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// A well-formed but unknown key
	status, _ = app.do(t, http.MethodGet, "/v1/businesses/"+tn.ID, "payx_000000000000000000000000000000000000000000a", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// Another tenant's business reads as absent, not forbidden
	other := createTenant(t, app, "Other Co")
	status, raw = app.do(t, http.MethodGet, "/v1/businesses/"+tn.ID, other.APIKey, "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(raw), "business_not_found")
}

func TestIntegration_SimpleTransfer(t *testing.T) {
	app := newTestApp(t)
	tn := createTenant(t, app, "Transfer Co")
	a := createAccount(t, app, tn, "USD", "1000.00")
	b := createAccount(t, app, tn, "USD", "")

	status, raw := app.do(t, http.MethodPost, "/v1/transactions", tn.APIKey, transferBody(a, b, "100.00"), nil)
	require.Equal(t, http.StatusCreated, status, "transfer: %s", raw)

	var txn struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Status string `json:"status"`
		Amount string `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(raw, &txn))
	assert.Equal(t, "transfer", txn.Type)
	assert.Equal(t, "completed", txn.Status)
	assert.Equal(t, "100.0000", txn.Amount)

	assert.Equal(t, "900.0000", accountBalance(t, app, tn, a))
	assert.Equal(t, "100.0000", accountBalance(t, app, tn, b))

	entries := app.ledgerRepo.all()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.LedgerEntryDebit, entries[0].EntryType)
	assert.Equal(t, "900.0000", money.Format(entries[0].BalanceAfter))
	assert.Equal(t, domain.LedgerEntryCredit, entries[1].EntryType)
	assert.Equal(t, "100.0000", money.Format(entries[1].BalanceAfter))

	status, raw = app.do(t, http.MethodGet, "/v1/webhooks/deliveries", tn.APIKey, "", nil)
	require.Equal(t, http.StatusOK, status)
	var deliveries struct {
		Items []struct {
			Status    string `json:"status"`
			EventType string `json:"event_type"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(raw, &deliveries))
	require.Len(t, deliveries.Items, 1)
	assert.Equal(t, "pending", deliveries.Items[0].Status)
	assert.Equal(t, "transaction.completed", deliveries.Items[0].EventType)
}

func TestIntegration_IdempotentReplay(t *testing.T) {
	app := newTestApp(t)
	tn := createTenant(t, app, "Replay Co")
	a := createAccount(t, app, tn, "USD", "1000.00")
	b := createAccount(t, app, tn, "USD", "")

	hdr := map[string]string{"Idempotency-Key": "txn-001"}
	status, first := app.do(t, http.MethodPost, "/v1/transactions", tn.APIKey, transferBody(a, b, "100.00"), hdr)
	require.Equal(t, http.StatusCreated, status, "first submit: %s", first)

	status, second := app.do(t, http.MethodPost, "/v1/transactions", tn.APIKey, transferBody(a, b, "100.00"), hdr)
	require.Equal(t, http.StatusOK, status, "replay: %s", second)
	assert.JSONEq(t, string(first), string(second))

	assert.Equal(t, 1, app.txRepo.count())
	assert.Equal(t, "900.0000", accountBalance(t, app, tn, a))
	assert.Equal(t, "100.0000", accountBalance(t, app, tn, b))
}

func TestIntegration_IdempotencyConflict(t *testing.T) {
	app := newTestApp(t)
	tn := createTenant(t, app, "Conflict Co")
	a := createAccount(t, app, tn, "USD", "1000.00")
	b := createAccount(t, app, tn, "USD", "")

	hdr := map[string]string{"Idempotency-Key": "txn-001"}
	status, raw := app.do(t, http.MethodPost, "/v1/transactions", tn.APIKey, transferBody(a, b, "100.00"), hdr)
	require.Equal(t, http.StatusCreated, status, "first submit: %s", raw)

	status, raw = app.do(t, http.MethodPost, "/v1/transactions", tn.APIKey, transferBody(a, b, "200.00"), hdr)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, string(raw), "idempotency_conflict")

	assert.Equal(t, 1, app.txRepo.count())
	assert.Equal(t, "900.0000", accountBalance(t, app, tn, a))
}

func TestIntegration_InsufficientFunds(t *testing.T) {
	app := newTestApp(t)
	tn := createTenant(t, app, "Broke Co")
	a := createAccount(t, app, tn, "USD", "50.00")

	body := fmt.Sprintf(`{"type":"debit","source_account_id":%q,"amount":"100.00","currency":"USD"}`, a)
	status, raw := app.do(t, http.MethodPost, "/v1/transactions", tn.APIKey, body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	var errResp struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &errResp))
	assert.Equal(t, "insufficient_funds", errResp.Error.Code)
	assert.Equal(t, "50.0000", errResp.Error.Details["available"])
	assert.Equal(t, "100.0000", errResp.Error.Details["requested"])

	assert.Equal(t, "50.0000", accountBalance(t, app, tn, a))
	assert.Empty(t, app.ledgerRepo.all())
	assert.Equal(t, 0, app.txRepo.count())
}

func TestIntegration_WebhookDeliveryAndRetry(t *testing.T) {
	app := newTestApp(t)
	tn := createTenant(t, app, "Hooks Co")
	a := createAccount(t, app, tn, "USD", "")

	// Endpoint that fails twice, then accepts.
	var calls int
	var gotBodies [][]byte
	var gotSignatures []string
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBodies = append(gotBodies, body)
		gotSignatures = append(gotSignatures, r.Header.Get("X-Webhook-Signature"))
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()

	status, raw := app.do(t, http.MethodPost, "/v1/webhooks/endpoints", tn.APIKey,
		fmt.Sprintf(`{"url":%q}`, endpoint.URL), nil)
	require.Equal(t, http.StatusCreated, status, "set endpoint: %s", raw)
	var endpointResp struct {
		Secret string `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(raw, &endpointResp))
	require.NotEmpty(t, endpointResp.Secret)

	body := fmt.Sprintf(`{"type":"credit","destination_account_id":%q,"amount":"10.00","currency":"USD"}`, a)
	status, raw = app.do(t, http.MethodPost, "/v1/transactions", tn.APIKey, body, nil)
	require.Equal(t, http.StatusCreated, status, "credit: %s", raw)

	ctx := context.Background()
	pending, err := app.outboxRepo.ListByBusiness(ctx, mustUUID(t, tn.ID), nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	eventID := pending[0].ID

	worker := app.newWorker()

	// First attempt fails with 500.
	before := time.Now().UTC()
	n, err := worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row, err := app.outboxRepo.GetByID(ctx, eventID, mustUUID(t, tn.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxStatusRetrying, row.Status)
	assert.Equal(t, 1, row.Attempts)
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, "http 500")
	assert.True(t, row.NextAttemptAt.After(before.Add(2*time.Second)))
	assert.True(t, row.NextAttemptAt.Before(before.Add(4*time.Second)))

	// Second attempt fails too; backoff doubles.
	app.outboxRepo.makeDue(eventID)
	before = time.Now().UTC()
	n, err = worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row, err = app.outboxRepo.GetByID(ctx, eventID, mustUUID(t, tn.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxStatusRetrying, row.Status)
	assert.Equal(t, 2, row.Attempts)
	assert.True(t, row.NextAttemptAt.After(before.Add(4*time.Second)))
	assert.True(t, row.NextAttemptAt.Before(before.Add(6*time.Second)))

	// Third attempt succeeds.
	app.outboxRepo.makeDue(eventID)
	n, err = worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row, err = app.outboxRepo.GetByID(ctx, eventID, mustUUID(t, tn.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxStatusDelivered, row.Status)
	assert.Equal(t, 3, row.Attempts)
	require.NotNil(t, row.ProcessedAt)

	// Every attempt carried the stored payload byte-for-byte with a
	// signature that verifies against the endpoint secret.
	require.Len(t, gotBodies, 3)
	sigSvc := service.NewHMACSignatureService()
	for i := range gotBodies {
		assert.Equal(t, []byte(row.Payload), gotBodies[i])
		assert.True(t, sigSvc.Verify(endpointResp.Secret, gotBodies[i], gotSignatures[i]))
	}
}

func TestIntegration_RateLimitExceeded(t *testing.T) {
	app := newTestAppWithRate(t, 3)
	tn := createTenant(t, app, "Throttled Co")

	// The window is minute-aligned, so allow one boundary crossing: with a
	// budget of 3 the gate must trip within 8 requests.
	var limited bool
	for i := 0; i < 8 && !limited; i++ {
		status, raw := app.do(t, http.MethodGet, "/v1/accounts", tn.APIKey, "", nil)
		switch status {
		case http.StatusOK:
		case http.StatusTooManyRequests:
			limited = true
			assert.Contains(t, string(raw), "rate_limit_exceeded")
		default:
			t.Fatalf("unexpected status %d: %s", status, raw)
		}
	}
	assert.True(t, limited)
}

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}
