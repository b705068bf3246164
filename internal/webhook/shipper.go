// Package webhook delivers captured events to application webhook URLs with
// signed payloads and retries. Capture itself happens in internal/events;
// the shipper only ever reads webhook log rows that are already durable.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gvso/nolas/internal/db"
	"github.com/gvso/nolas/internal/metrics"
	"github.com/gvso/nolas/internal/models"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the request body keyed
	// with the app's webhook secret.
	SignatureHeader = "X-Nolas-Signature"

	defaultInterval   = 5 * time.Second
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 5
	defaultBatchSize  = 50
	// responseBodyLimit bounds how much of a response is stored per attempt.
	responseBodyLimit = 4096
	// retryBaseDelay is the first retry delay; it doubles per attempt.
	retryBaseDelay = time.Second
)

// ShipperConfig carries the delivery knobs. Zero values fall back to
// defaults.
type ShipperConfig struct {
	// Interval between polls for due entries.
	Interval time.Duration
	// Timeout bounds one delivery request.
	Timeout time.Duration
	// MaxRetries is the attempt ceiling per entry.
	MaxRetries int
	// BatchSize caps entries processed per poll.
	BatchSize int
	// Collector receives delivery metrics. Nil disables them.
	Collector metrics.Collector
}

// Shipper polls webhook logs and posts due entries to their app's webhook
// URL. A 2xx response marks the entry delivered; a 4xx abandons it since a
// retry cannot change the outcome; anything else schedules an exponential
// retry up to the attempt ceiling.
type Shipper struct {
	store     *pgxpool.Pool
	client    *http.Client
	cfg       ShipperConfig
	collector metrics.Collector

	mu      sync.Mutex
	secrets map[int64]string
}

// NewShipper builds a shipper over the given store.
func NewShipper(store *pgxpool.Pool, cfg ShipperConfig) *Shipper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	collector := cfg.Collector
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	return &Shipper{
		store:     store,
		client:    &http.Client{Timeout: cfg.Timeout},
		cfg:       cfg,
		collector: collector,
		secrets:   make(map[int64]string),
	}
}

// Run polls until ctx is canceled. It blocks.
func (s *Shipper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("Webhook shipper: polling every %s", s.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("Webhook shipper: stopping")
			return
		case <-ticker.C:
			if _, err := s.DeliverDue(ctx); err != nil {
				log.Printf("Webhook shipper: poll failed: %v", err)
			}
		}
	}
}

// DeliverDue processes one batch of due entries and reports how many were
// delivered.
func (s *Shipper) DeliverDue(ctx context.Context) (int, error) {
	entries, err := db.ListDueWebhookLogs(ctx, s.store, s.cfg.MaxRetries, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if s.deliver(ctx, entry) {
			delivered++
		}
	}
	return delivered, nil
}

// deliver runs one attempt for one entry and records its outcome.
func (s *Shipper) deliver(ctx context.Context, entry *models.WebhookLog) bool {
	attempt := entry.Attempts + 1
	statusCode, body, err := s.post(ctx, entry, attempt)

	switch {
	case err != nil:
		s.collector.WebhookAttempt(false)
		log.Printf("Webhook shipper: attempt %d for entry %s failed: %v", attempt, entry.UUID, err)
		if recordErr := db.RecordWebhookAttempt(ctx, s.store, entry.ID, nil, err.Error(), false, s.nextAttempt(attempt)); recordErr != nil {
			log.Printf("Webhook shipper: recording attempt for entry %s: %v", entry.UUID, recordErr)
		}
		return false

	case statusCode >= 200 && statusCode < 300:
		s.collector.WebhookAttempt(true)
		if recordErr := db.RecordWebhookAttempt(ctx, s.store, entry.ID, &statusCode, body, true, time.Time{}); recordErr != nil {
			log.Printf("Webhook shipper: recording delivery for entry %s: %v", entry.UUID, recordErr)
		}
		return true

	case statusCode >= 400 && statusCode < 500:
		// The receiver rejected the payload; retrying cannot help.
		s.collector.WebhookAttempt(false)
		log.Printf("Webhook shipper: entry %s rejected with %d, abandoning", entry.UUID, statusCode)
		if recordErr := db.AbandonWebhookLog(ctx, s.store, entry.ID, &statusCode, body, s.cfg.MaxRetries); recordErr != nil {
			log.Printf("Webhook shipper: abandoning entry %s: %v", entry.UUID, recordErr)
		}
		return false

	default:
		s.collector.WebhookAttempt(false)
		log.Printf("Webhook shipper: attempt %d for entry %s got %d, will retry", attempt, entry.UUID, statusCode)
		if recordErr := db.RecordWebhookAttempt(ctx, s.store, entry.ID, &statusCode, body, false, s.nextAttempt(attempt)); recordErr != nil {
			log.Printf("Webhook shipper: recording attempt for entry %s: %v", entry.UUID, recordErr)
		}
		return false
	}
}

// post sends the signed payload and returns the response status and a
// truncated body.
func (s *Shipper) post(ctx context.Context, entry *models.WebhookLog, attempt int) (int, string, error) {
	payload := patchAttempt(entry.Payload, attempt)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, entry.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("building webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	secret, err := s.secret(ctx, entry.AppID)
	if err != nil {
		return 0, "", err
	}
	if secret != "" {
		request.Header.Set(SignatureHeader, Sign(payload, secret))
	}

	response, err := s.client.Do(request)
	if err != nil {
		return 0, "", fmt.Errorf("posting webhook: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(response.Body, responseBodyLimit))
	return response.StatusCode, string(body), nil
}

// patchAttempt rewrites webhook_delivery_attempt in the stored payload so
// each retry reports its own attempt number. The stored payload stays as
// captured; a payload that does not parse is sent unchanged.
func patchAttempt(stored []byte, attempt int) []byte {
	var payload models.WebhookPayload
	if err := json.Unmarshal(stored, &payload); err != nil {
		return stored
	}
	payload.WebhookDeliveryAttempt = attempt
	patched, err := json.Marshal(payload)
	if err != nil {
		return stored
	}
	return patched
}

// nextAttempt schedules the retry after an exponentially growing delay.
func (s *Shipper) nextAttempt(attempt int) time.Time {
	delay := time.Duration(math.Pow(2, float64(attempt-1))) * retryBaseDelay
	return time.Now().Add(delay)
}

// secret resolves and caches the app's webhook secret.
func (s *Shipper) secret(ctx context.Context, appID int64) (string, error) {
	s.mu.Lock()
	secret, ok := s.secrets[appID]
	s.mu.Unlock()
	if ok {
		return secret, nil
	}

	app, err := db.GetAppByID(ctx, s.store, appID)
	if err != nil {
		return "", fmt.Errorf("resolving app %d: %w", appID, err)
	}

	s.mu.Lock()
	s.secrets[appID] = app.WebhookSecret
	s.mu.Unlock()
	return app.WebhookSecret, nil
}

// Sign returns the hex HMAC-SHA256 of body keyed with secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
