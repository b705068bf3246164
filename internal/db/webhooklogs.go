package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gvso/nolas/internal/models"
)

// ErrWebhookLogNotFound is returned when no webhook log row exists.
var ErrWebhookLogNotFound = errors.New("webhook log not found")

const webhookLogColumns = `id, uuid, app_id, account_id, folder, uid, payload, webhook_url,
	status_code, response_body, attempts, next_attempt_at, delivered_at, created_at`

// InsertWebhookLog appends a captured event. This insert is the durable
// hand-off point between the listener and delivery: once it returns, the
// event survives a crash.
func InsertWebhookLog(ctx context.Context, pool *pgxpool.Pool, entry *models.WebhookLog) (*models.WebhookLog, error) {
	row := pool.QueryRow(ctx, `
		INSERT INTO webhook_logs (app_id, account_id, folder, uid, payload, webhook_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+webhookLogColumns+`
	`,
		entry.AppID,
		entry.AccountID,
		entry.Folder,
		int64(entry.UID),
		entry.Payload,
		entry.WebhookURL,
	)

	return scanWebhookLog(row)
}

// ListDueWebhookLogs returns undelivered entries whose next attempt is due,
// oldest first, capped at limit. Entries that exhausted maxAttempts are
// considered abandoned and are not returned.
func ListDueWebhookLogs(ctx context.Context, pool *pgxpool.Pool, maxAttempts, limit int) ([]*models.WebhookLog, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+webhookLogColumns+`
		FROM webhook_logs
		WHERE delivered_at IS NULL
		  AND attempts < $1
		  AND next_attempt_at <= NOW()
		ORDER BY id
		LIMIT $2
	`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due webhook logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.WebhookLog
	for rows.Next() {
		entry, err := scanWebhookLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list due webhook logs: %w", err)
	}

	return entries, nil
}

// RecordWebhookAttempt stores the outcome of one delivery attempt. A
// successful attempt sets delivered_at; a failed one schedules the retry.
func RecordWebhookAttempt(ctx context.Context, pool *pgxpool.Pool, id int64, statusCode *int, responseBody string, delivered bool, nextAttemptAt time.Time) error {
	var err error
	if delivered {
		_, err = pool.Exec(ctx, `
			UPDATE webhook_logs
			SET attempts = attempts + 1,
			    status_code = $2,
			    response_body = $3,
			    delivered_at = NOW()
			WHERE id = $1
		`, id, statusCode, responseBody)
	} else {
		_, err = pool.Exec(ctx, `
			UPDATE webhook_logs
			SET attempts = attempts + 1,
			    status_code = $2,
			    response_body = $3,
			    next_attempt_at = $4
			WHERE id = $1
		`, id, statusCode, responseBody, nextAttemptAt)
	}

	if err != nil {
		return fmt.Errorf("failed to record webhook attempt: %w", err)
	}

	return nil
}

// AbandonWebhookLog marks an entry as permanently failed by maxing out its
// attempts. Used for 4xx responses that will never succeed on retry.
func AbandonWebhookLog(ctx context.Context, pool *pgxpool.Pool, id int64, statusCode *int, responseBody string, maxAttempts int) error {
	_, err := pool.Exec(ctx, `
		UPDATE webhook_logs
		SET attempts = GREATEST(attempts + 1, $4),
		    status_code = $2,
		    response_body = $3
		WHERE id = $1
	`, id, statusCode, responseBody, maxAttempts)
	if err != nil {
		return fmt.Errorf("failed to abandon webhook log: %w", err)
	}

	return nil
}

// GetWebhookLogByID fetches one entry.
func GetWebhookLogByID(ctx context.Context, pool *pgxpool.Pool, id int64) (*models.WebhookLog, error) {
	return scanWebhookLog(pool.QueryRow(ctx, `
		SELECT `+webhookLogColumns+`
		FROM webhook_logs
		WHERE id = $1
	`, id))
}

// CountWebhookLogsForAccount reports how many events were captured for an
// account, mostly for stats and tests.
func CountWebhookLogsForAccount(ctx context.Context, pool *pgxpool.Pool, accountID int64) (int, error) {
	var count int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM webhook_logs WHERE account_id = $1
	`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count webhook logs: %w", err)
	}

	return count, nil
}

func scanWebhookLog(row pgx.Row) (*models.WebhookLog, error) {
	var entry models.WebhookLog
	var uid int64

	err := row.Scan(
		&entry.ID,
		&entry.UUID,
		&entry.AppID,
		&entry.AccountID,
		&entry.Folder,
		&uid,
		&entry.Payload,
		&entry.WebhookURL,
		&entry.StatusCode,
		&entry.ResponseBody,
		&entry.Attempts,
		&entry.NextAttemptAt,
		&entry.DeliveredAt,
		&entry.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWebhookLogNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook log: %w", err)
	}

	entry.UID = uint32(uid)
	return &entry, nil
}
