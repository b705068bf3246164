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

// ErrAppNotFound is returned when no app matches the lookup.
var ErrAppNotFound = errors.New("app not found")

const appColumns = `id, uuid, name, api_key, webhook_url, webhook_secret, created_at, updated_at`

// CreateApp registers a new application.
func CreateApp(ctx context.Context, pool *pgxpool.Pool, app *models.App) (*models.App, error) {
	var created models.App

	err := pool.QueryRow(ctx, `
		INSERT INTO apps (name, api_key, webhook_url, webhook_secret)
		VALUES ($1, $2, $3, $4)
		RETURNING `+appColumns+`
	`, app.Name, app.APIKey, app.WebhookURL, app.WebhookSecret).Scan(
		&created.ID,
		&created.UUID,
		&created.Name,
		&created.APIKey,
		&created.WebhookURL,
		&created.WebhookSecret,
		&created.CreatedAt,
		&created.UpdatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to create app: %w", err)
	}

	return &created, nil
}

// GetAppByUUID resolves the public client_id to an app.
func GetAppByUUID(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID) (*models.App, error) {
	return scanApp(pool.QueryRow(ctx, `
		SELECT `+appColumns+`
		FROM apps
		WHERE uuid = $1
	`, id))
}

// GetAppByAPIKey resolves a Bearer API key to an app.
func GetAppByAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey string) (*models.App, error) {
	return scanApp(pool.QueryRow(ctx, `
		SELECT `+appColumns+`
		FROM apps
		WHERE api_key = $1
	`, apiKey))
}

// GetAppByID fetches an app by its internal id.
func GetAppByID(ctx context.Context, pool *pgxpool.Pool, id int64) (*models.App, error) {
	return scanApp(pool.QueryRow(ctx, `
		SELECT `+appColumns+`
		FROM apps
		WHERE id = $1
	`, id))
}

func scanApp(row pgx.Row) (*models.App, error) {
	var app models.App

	err := row.Scan(
		&app.ID,
		&app.UUID,
		&app.Name,
		&app.APIKey,
		&app.WebhookURL,
		&app.WebhookSecret,
		&app.CreatedAt,
		&app.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get app: %w", err)
	}

	return &app, nil
}
