// Package events turns observed messages into durable webhook log entries.
// The emitter is the hand-off boundary between the IMAP listener and the
// delivery shipper: a record the emitter accepted survives a crash.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gvso/nolas/internal/db"
	"github.com/gvso/nolas/internal/metrics"
	"github.com/gvso/nolas/internal/models"
)

// Emitter captures message records as webhook log rows. It implements
// imap.Sink; Emit returns only after the row is inserted, so the listener's
// cursor never advances past an uncaptured event.
type Emitter struct {
	store     *pgxpool.Pool
	collector metrics.Collector

	mu   sync.Mutex
	apps map[int64]*models.App
}

// NewEmitter builds an emitter. collector may be nil.
func NewEmitter(store *pgxpool.Pool, collector metrics.Collector) *Emitter {
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}
	return &Emitter{
		store:     store,
		collector: collector,
		apps:      make(map[int64]*models.App),
	}
}

// Emit writes one webhook log entry for the record and returns once it is
// durable. The snapshot stores attempt 1; the shipper rewrites the attempt
// number per delivery.
func (e *Emitter) Emit(ctx context.Context, account *models.Account, folder string, record models.MessageRecord) error {
	app, err := e.app(ctx, account.AppID)
	if err != nil {
		return fmt.Errorf("resolving app %d: %w", account.AppID, err)
	}

	payload := models.WebhookPayload{
		SpecVersion:            "1.0",
		Type:                   "message.created",
		Source:                 "imap",
		ID:                     uuid.NewString(),
		Time:                   time.Now().Unix(),
		WebhookDeliveryAttempt: 1,
		Data: models.WebhookData{
			ApplicationID: app.UUID.String(),
			Object:        record,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	if _, err := db.InsertWebhookLog(ctx, e.store, &models.WebhookLog{
		AppID:      account.AppID,
		AccountID:  account.ID,
		Folder:     folder,
		UID:        record.UID,
		Payload:    body,
		WebhookURL: app.WebhookURL,
	}); err != nil {
		return fmt.Errorf("capturing event for %s:%s uid %d: %w", account.Email, folder, record.UID, err)
	}

	e.collector.EventCaptured()
	return nil
}

// app resolves and caches the owning app. Webhook URLs change rarely; a
// stale cache entry only ships to the previous URL until restart.
func (e *Emitter) app(ctx context.Context, appID int64) (*models.App, error) {
	e.mu.Lock()
	cached, ok := e.apps[appID]
	e.mu.Unlock()
	if ok {
		return cached, nil
	}

	app, err := db.GetAppByID(ctx, e.store, appID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.apps[appID] = app
	e.mu.Unlock()
	return app, nil
}
