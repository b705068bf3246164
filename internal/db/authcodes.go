package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gvso/nolas/internal/models"
)

var (
	// ErrAuthorizationCodeNotFound is returned when no code row exists.
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")
	// ErrCodeConsumed is returned when a code is already used or expired at
	// consume time.
	ErrCodeConsumed = errors.New("authorization code already consumed or expired")
)

const authorizationCodeColumns = `id, code, app_id, account_id, redirect_uri, scope, issued_at, expires_at, used_at`

// InsertAuthorizationCode stores a freshly issued code.
func InsertAuthorizationCode(ctx context.Context, pool *pgxpool.Pool, code *models.AuthorizationCode) (*models.AuthorizationCode, error) {
	row := pool.QueryRow(ctx, `
		INSERT INTO authorization_codes (code, app_id, account_id, redirect_uri, scope, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+authorizationCodeColumns+`
	`,
		code.Code,
		code.AppID,
		code.AccountID,
		code.RedirectURI,
		code.Scope,
		code.IssuedAt,
		code.ExpiresAt,
	)

	return scanAuthorizationCode(row)
}

// GetAuthorizationCodeByCode looks up a code row without touching it.
func GetAuthorizationCodeByCode(ctx context.Context, pool *pgxpool.Pool, code string) (*models.AuthorizationCode, error) {
	return scanAuthorizationCode(pool.QueryRow(ctx, `
		SELECT `+authorizationCodeColumns+`
		FROM authorization_codes
		WHERE code = $1
	`, code))
}

// ConsumeAuthorizationCode marks a code used. The single conditional UPDATE
// is the atomicity guarantee: of any number of concurrent callers, at most
// one sees a row change. Expiry is exclusive, a code at exactly expires_at
// is no longer consumable.
func ConsumeAuthorizationCode(ctx context.Context, pool *pgxpool.Pool, code string) error {
	tag, err := pool.Exec(ctx, `
		UPDATE authorization_codes
		SET used_at = NOW()
		WHERE code = $1
		  AND used_at IS NULL
		  AND expires_at > NOW()
	`, code)
	if err != nil {
		return fmt.Errorf("failed to consume authorization code: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrCodeConsumed
	}

	return nil
}

// DeleteExpiredAuthorizationCodes removes codes whose expiry has passed.
// Returns the number of rows deleted.
func DeleteExpiredAuthorizationCodes(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	tag, err := pool.Exec(ctx, `
		DELETE FROM authorization_codes
		WHERE expires_at <= NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired authorization codes: %w", err)
	}

	return tag.RowsAffected(), nil
}

func scanAuthorizationCode(row pgx.Row) (*models.AuthorizationCode, error) {
	var code models.AuthorizationCode

	err := row.Scan(
		&code.ID,
		&code.Code,
		&code.AppID,
		&code.AccountID,
		&code.RedirectURI,
		&code.Scope,
		&code.IssuedAt,
		&code.ExpiresAt,
		&code.UsedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAuthorizationCodeNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	return &code, nil
}
