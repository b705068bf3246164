package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gvso/nolas/internal/models"
)

// ErrConnectionHealthNotFound is returned when no health row exists yet.
var ErrConnectionHealthNotFound = errors.New("connection health not found")

// RecordConnectionSuccess upserts a healthy observation for (account, folder)
// and clears the consecutive failure counter.
func RecordConnectionSuccess(ctx context.Context, pool *pgxpool.Pool, accountID int64, folder string) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO connection_health (account_id, folder, last_success_at, consecutive_failures, last_error)
		VALUES ($1, $2, NOW(), 0, '')
		ON CONFLICT (account_id, folder) DO UPDATE SET
			last_success_at = NOW(),
			consecutive_failures = 0,
			last_error = ''
	`, accountID, folder)
	if err != nil {
		return fmt.Errorf("failed to record connection success: %w", err)
	}

	return nil
}

// RecordConnectionFailure upserts a failed observation and returns the new
// consecutive failure count so the caller can compare against its ceiling.
func RecordConnectionFailure(ctx context.Context, pool *pgxpool.Pool, accountID int64, folder string, cause string) (int, error) {
	var failures int

	err := pool.QueryRow(ctx, `
		INSERT INTO connection_health (account_id, folder, last_failure_at, consecutive_failures, last_error)
		VALUES ($1, $2, NOW(), 1, $3)
		ON CONFLICT (account_id, folder) DO UPDATE SET
			last_failure_at = NOW(),
			consecutive_failures = connection_health.consecutive_failures + 1,
			last_error = EXCLUDED.last_error
		RETURNING consecutive_failures
	`, accountID, folder, cause).Scan(&failures)
	if err != nil {
		return 0, fmt.Errorf("failed to record connection failure: %w", err)
	}

	return failures, nil
}

// GetConnectionHealth fetches the health row for (account, folder).
func GetConnectionHealth(ctx context.Context, pool *pgxpool.Pool, accountID int64, folder string) (*models.ConnectionHealth, error) {
	var health models.ConnectionHealth

	err := pool.QueryRow(ctx, `
		SELECT account_id, folder, last_success_at, last_failure_at, consecutive_failures, last_error
		FROM connection_health
		WHERE account_id = $1 AND folder = $2
	`, accountID, folder).Scan(
		&health.AccountID,
		&health.Folder,
		&health.LastSuccessAt,
		&health.LastFailureAt,
		&health.ConsecutiveFailures,
		&health.LastError,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConnectionHealthNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get connection health: %w", err)
	}

	return &health, nil
}
