package service

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"payx-ledger/internal/core/domain"
	"payx-ledger/internal/core/ports"
)

const (
	idleSleep             = time.Second
	backoffCap            = time.Hour
	rateWindowMaxAge      = time.Hour
	rateWindowsPruneEvery = 5 * time.Minute
)

// HTTPClient is the outbound client interface, narrowed for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookWorker drains the outbox and delivers events to tenant webhook
// URLs. It runs outside the HTTP request path; crash safety comes from the
// claim transaction, whose rollback frees any undelivered claims.
type WebhookWorker struct {
	transactor   ports.DBTransactor
	outboxRepo   ports.OutboxRepository
	businessRepo ports.BusinessRepository
	rateRepo     ports.RateLimitRepository
	sigSvc       ports.SignatureService
	client       HTTPClient
	batchSize    int
	tracer       trace.Tracer
	log          zerolog.Logger

	lastPrune time.Time
	stop      chan struct{}
	done      chan struct{}
}

// NewWebhookWorker creates a worker. The client should carry the delivery
// timeout (10s by default).
func NewWebhookWorker(
	transactor ports.DBTransactor,
	outboxRepo ports.OutboxRepository,
	businessRepo ports.BusinessRepository,
	rateRepo ports.RateLimitRepository,
	sigSvc ports.SignatureService,
	client HTTPClient,
	batchSize int,
	log zerolog.Logger,
) *WebhookWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &WebhookWorker{
		transactor:   transactor,
		outboxRepo:   outboxRepo,
		businessRepo: businessRepo,
		rateRepo:     rateRepo,
		sigSvc:       sigSvc,
		client:       client,
		batchSize:    batchSize,
		tracer:       otel.Tracer("payx-ledger/webhook"),
		log:          log,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the delivery loop in its own goroutine.
func (w *WebhookWorker) Start(ctx context.Context) {
	go w.run(ctx)
	w.log.Info().Int("batch_size", w.batchSize).Msg("webhook worker started")
}

// Stop signals the loop and waits for the in-flight batch to finish.
func (w *WebhookWorker) Stop() {
	close(w.stop)
	<-w.done
	w.log.Info().Msg("webhook worker stopped")
}

func (w *WebhookWorker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		n, err := w.ProcessBatch(ctx)
		if err != nil {
			w.log.Error().Err(err).Msg("webhook batch failed")
		}
		if n > 0 {
			continue
		}

		w.maybePruneRateWindows(ctx)

		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(idleSleep):
		}
	}
}

// ProcessBatch claims and delivers one batch. Returns the number of claimed
// rows.
func (w *WebhookWorker) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := w.tracer.Start(ctx, "webhook.batch")
	defer span.End()

	now := time.Now().UTC()

	dbTx, err := w.transactor.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin claim tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	events, err := w.outboxRepo.ClaimBatch(ctx, dbTx, w.batchSize, now)
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}
	span.SetAttributes(attribute.Int("webhook.claimed", len(events)))
	if len(events) == 0 {
		return 0, nil
	}

	for i := range events {
		if err := w.deliver(ctx, dbTx, &events[i]); err != nil {
			return 0, err
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return len(events), nil
}

// deliver attempts one event and records the outcome on the claimed row.
func (w *WebhookWorker) deliver(ctx context.Context, dbTx pgx.Tx, e *domain.OutboxEvent) error {
	now := time.Now().UTC()

	business, err := w.businessRepo.GetByID(ctx, e.BusinessID)
	if err != nil {
		return fmt.Errorf("resolve business: %w", err)
	}
	if business == nil || business.WebhookURL == nil || *business.WebhookURL == "" {
		// Nothing to deliver to; retrying later would not change that.
		w.log.Debug().Str("event_id", e.ID.String()).Msg("no webhook URL configured, marking delivered")
		return w.outboxRepo.MarkDelivered(ctx, dbTx, e.ID, now)
	}

	status, deliverErr := w.post(ctx, business, e, now)
	if deliverErr == nil && status >= 200 && status < 300 {
		w.log.Info().
			Str("event_id", e.ID.String()).
			Int("attempt", e.Attempts+1).
			Int("status", status).
			Msg("webhook delivered")
		return w.outboxRepo.MarkDelivered(ctx, dbTx, e.ID, now)
	}

	reason := fmt.Sprintf("http %d", status)
	if deliverErr != nil {
		reason = deliverErr.Error()
	}

	attempts := e.Attempts + 1
	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	if attempts >= maxAttempts {
		w.log.Warn().
			Str("event_id", e.ID.String()).
			Int("attempts", attempts).
			Str("reason", reason).
			Msg("webhook delivery exhausted, marking failed")
		return w.outboxRepo.MarkFailed(ctx, dbTx, e.ID, reason)
	}

	next := now.Add(backoffDelay(attempts))
	w.log.Warn().
		Str("event_id", e.ID.String()).
		Int("attempt", attempts).
		Time("next_attempt_at", next).
		Str("reason", reason).
		Msg("webhook delivery failed, scheduling retry")
	return w.outboxRepo.ScheduleRetry(ctx, dbTx, e.ID, attempts, next, reason)
}

// post sends the stored payload byte-for-byte with the signature headers.
func (w *WebhookWorker) post(ctx context.Context, business *domain.Business, e *domain.OutboxEvent, now time.Time) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *business.WebhookURL, bytes.NewReader(e.Payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Id", e.ID.String())
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(now.Unix(), 10))
	if business.WebhookSecret != nil {
		req.Header.Set("X-Webhook-Signature", w.sigSvc.Sign(*business.WebhookSecret, e.Payload))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// backoffDelay doubles per attempt, capped at one hour, plus up to 1s of
// jitter to spread concurrent retries.
func backoffDelay(attempts int) time.Duration {
	delay := backoffCap
	if attempts < 12 { // 2^12s already exceeds the cap
		delay = time.Duration(1<<uint(attempts)) * time.Second
		if delay > backoffCap {
			delay = backoffCap
		}
	}
	return delay + time.Duration(rand.Int63n(int64(time.Second)))
}

// maybePruneRateWindows removes stale fixed-window rows while the worker is
// otherwise idle.
func (w *WebhookWorker) maybePruneRateWindows(ctx context.Context) {
	now := time.Now().UTC()
	if now.Sub(w.lastPrune) < rateWindowsPruneEvery {
		return
	}
	w.lastPrune = now

	deleted, err := w.rateRepo.PruneBefore(ctx, now.Add(-rateWindowMaxAge))
	if err != nil {
		w.log.Warn().Err(err).Msg("rate window prune failed")
		return
	}
	if deleted > 0 {
		w.log.Debug().Int64("deleted", deleted).Msg("pruned stale rate limit windows")
	}
}
