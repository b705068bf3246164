package oauth2

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gvso/nolas/internal/db"
	"github.com/gvso/nolas/internal/models"
)

// TokenRequest is the body of a token exchange call. The calling app itself
// is authenticated by the transport layer before the exchange runs.
type TokenRequest struct {
	GrantType   string `json:"grant_type"`
	Code        string `json:"code"`
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
}

// TokenResponse is the success result: a fresh request id and the account's
// stable grant id.
type TokenResponse struct {
	RequestID string `json:"request_id"`
	GrantID   string `json:"grant_id"`
}

// ExchangeToken validates and consumes an authorization code for app. Checks
// run in a fixed order, each with its own failure kind, and the code is only
// marked used after every binding check passed: a redirect mismatch must not
// burn the code.
func ExchangeToken(ctx context.Context, store *pgxpool.Pool, app *models.App, req TokenRequest) (*TokenResponse, *Error) {
	if req.GrantType != "authorization_code" {
		return nil, E(KindUnsupportedGrantType, "Unsupported grant_type. Must be 'authorization_code'.")
	}
	if req.ClientID != app.UUID.String() {
		return nil, E(KindInvalidClient, "Invalid client_id.")
	}

	code, err := db.GetAuthorizationCodeByCode(ctx, store, req.Code)
	if err != nil {
		if errors.Is(err, db.ErrAuthorizationCodeNotFound) {
			return nil, E(KindInvalidGrant, "Invalid authorization code.")
		}
		log.Printf("OAuth2: looking up code %s…: %v", models.CodePrefix(req.Code), err)
		return nil, E(KindInternal, "Failed to exchange authorization code for token")
	}

	if !code.Valid(time.Now()) {
		return nil, E(KindInvalidGrant, "Authorization code expired or already used.")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, E(KindInvalidGrant, "Invalid redirect_uri.")
	}
	if code.AppID != app.ID {
		return nil, E(KindInvalidClient, "Authorization code not issued for this application.")
	}

	// The conditional update is the single point of contention: when two
	// exchanges race, the loser lands here with zero affected rows.
	if err := db.ConsumeAuthorizationCode(ctx, store, code.Code); err != nil {
		if errors.Is(err, db.ErrCodeConsumed) {
			return nil, E(KindInvalidGrant, "Authorization code expired or already used.")
		}
		log.Printf("OAuth2: consuming code %s…: %v", models.CodePrefix(code.Code), err)
		return nil, E(KindInternal, "Failed to exchange authorization code for token")
	}

	account, err := db.GetAccountByID(ctx, store, code.AccountID)
	if err != nil {
		log.Printf("OAuth2: loading account %d for code %s…: %v", code.AccountID, models.CodePrefix(code.Code), err)
		return nil, E(KindInternal, "Failed to exchange authorization code for token")
	}

	if err := db.UpdateAccountStatus(ctx, store, account.ID, models.AccountStatusActive); err != nil {
		log.Printf("OAuth2: activating account %s: %v", account.UUID, err)
		return nil, E(KindInternal, "Failed to exchange authorization code for token")
	}

	log.Printf("OAuth2: exchanged code %s… for grant %s (app %s)",
		models.CodePrefix(code.Code), account.UUID, app.UUID)

	return &TokenResponse{
		RequestID: uuid.NewString(),
		GrantID:   account.UUID.String(),
	}, nil
}
