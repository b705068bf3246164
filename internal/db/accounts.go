package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gvso/nolas/internal/models"
)

// ErrAccountNotFound is returned when no account matches the lookup.
var ErrAccountNotFound = errors.New("account not found")

const accountColumns = `id, uuid, app_id, email, provider, credentials, imap_host, imap_port,
	smtp_host, smtp_port, status, created_at, updated_at`

// UpsertAccount creates or refreshes the account for (app, email). A repeated
// authorization overwrites the stored credentials and endpoints and moves the
// account back to pending until the next token exchange completes.
func UpsertAccount(ctx context.Context, pool *pgxpool.Pool, account *models.Account) (*models.Account, error) {
	row := pool.QueryRow(ctx, `
		INSERT INTO accounts (app_id, email, provider, credentials, imap_host, imap_port, smtp_host, smtp_port, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
		ON CONFLICT (app_id, email) DO UPDATE SET
			credentials = EXCLUDED.credentials,
			imap_host = EXCLUDED.imap_host,
			imap_port = EXCLUDED.imap_port,
			smtp_host = EXCLUDED.smtp_host,
			smtp_port = EXCLUDED.smtp_port,
			status = 'pending',
			updated_at = NOW()
		RETURNING `+accountColumns+`
	`,
		account.AppID,
		account.Email,
		account.Provider,
		account.EncryptedCredentials,
		account.IMAPHost,
		account.IMAPPort,
		account.SMTPHost,
		account.SMTPPort,
	)

	return scanAccount(row)
}

// GetAccountByID fetches an account by its internal id.
func GetAccountByID(ctx context.Context, pool *pgxpool.Pool, id int64) (*models.Account, error) {
	return scanAccount(pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id))
}

// GetAccountByUUID fetches an account by its public grant id.
func GetAccountByUUID(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID) (*models.Account, error) {
	return scanAccount(pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE uuid = $1
	`, id))
}

// ListAccountsByStatus returns all accounts in the given status, oldest first.
// The stable ordering matters to the supervisor's sharding.
func ListAccountsByStatus(ctx context.Context, pool *pgxpool.Pool, status models.AccountStatus) ([]*models.Account, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE status = $1
		ORDER BY id
	`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	return accounts, nil
}

// UpdateAccountStatus moves an account to the given status.
func UpdateAccountStatus(ctx context.Context, pool *pgxpool.Pool, id int64, status models.AccountStatus) error {
	tag, err := pool.Exec(ctx, `
		UPDATE accounts
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	return nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var account models.Account

	err := row.Scan(
		&account.ID,
		&account.UUID,
		&account.AppID,
		&account.Email,
		&account.Provider,
		&account.EncryptedCredentials,
		&account.IMAPHost,
		&account.IMAPPort,
		&account.SMTPHost,
		&account.SMTPPort,
		&account.Status,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}
