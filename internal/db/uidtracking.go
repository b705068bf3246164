package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gvso/nolas/internal/models"
)

// ErrUIDValidityChanged is returned by AdvanceUIDTracking when the stored
// UIDVALIDITY no longer matches. The caller has to re-observe the mailbox and
// reset before advancing again.
var ErrUIDValidityChanged = errors.New("uidvalidity changed")

// GetUIDTracking loads sync progress for (account, folder). A missing row is
// returned as a zero entry rather than an error: a brand-new folder starts
// from UID 0.
func GetUIDTracking(ctx context.Context, pool *pgxpool.Pool, accountID int64, folder string) (*models.UIDTracking, error) {
	var tracking models.UIDTracking

	err := pool.QueryRow(ctx, `
		SELECT account_id, folder, uidvalidity, last_seen_uid, last_checked_at
		FROM uid_tracking
		WHERE account_id = $1 AND folder = $2
	`, accountID, folder).Scan(
		&tracking.AccountID,
		&tracking.Folder,
		&tracking.UIDValidity,
		&tracking.LastSeenUID,
		&tracking.LastCheckedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return &models.UIDTracking{AccountID: accountID, Folder: folder}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get uid tracking: %w", err)
	}

	return &tracking, nil
}

// AdvanceUIDTracking moves last_seen_uid forward under the given UIDVALIDITY.
// The guarded UPDATE makes the advance a compare-and-set: zero affected rows
// means the stored UIDVALIDITY differs (or the row is missing) and the caller
// must reset. GREATEST keeps the value monotonic, an advance to a lower UID
// is a silent no-op.
func AdvanceUIDTracking(ctx context.Context, pool *pgxpool.Pool, accountID int64, folder string, uidValidity, lastSeenUID uint32) error {
	tag, err := pool.Exec(ctx, `
		UPDATE uid_tracking
		SET last_seen_uid = GREATEST(last_seen_uid, $4),
		    last_checked_at = NOW()
		WHERE account_id = $1 AND folder = $2 AND uidvalidity = $3
	`, accountID, folder, int64(uidValidity), int64(lastSeenUID))
	if err != nil {
		return fmt.Errorf("failed to advance uid tracking: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrUIDValidityChanged
	}

	return nil
}

// ResetUIDTracking records a new UIDVALIDITY for (account, folder) and drops
// the sync position back to zero.
func ResetUIDTracking(ctx context.Context, pool *pgxpool.Pool, accountID int64, folder string, uidValidity uint32) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO uid_tracking (account_id, folder, uidvalidity, last_seen_uid, last_checked_at)
		VALUES ($1, $2, $3, 0, NOW())
		ON CONFLICT (account_id, folder) DO UPDATE SET
			uidvalidity = EXCLUDED.uidvalidity,
			last_seen_uid = 0,
			last_checked_at = NOW()
	`, accountID, folder, int64(uidValidity))
	if err != nil {
		return fmt.Errorf("failed to reset uid tracking: %w", err)
	}

	return nil
}

// TouchUIDTracking bumps last_checked_at without moving the sync position.
func TouchUIDTracking(ctx context.Context, pool *pgxpool.Pool, accountID int64, folder string) error {
	_, err := pool.Exec(ctx, `
		UPDATE uid_tracking
		SET last_checked_at = NOW()
		WHERE account_id = $1 AND folder = $2
	`, accountID, folder)
	if err != nil {
		return fmt.Errorf("failed to touch uid tracking: %w", err)
	}

	return nil
}
