package api

import (
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gvso/nolas/internal/auth"
	"github.com/gvso/nolas/internal/oauth2"
)

// TokenHandler exchanges authorization codes for grant ids. The calling app
// is authenticated upstream by auth.RequireApp.
type TokenHandler struct {
	pool *pgxpool.Pool
}

// NewTokenHandler creates the handler for POST /token.
func NewTokenHandler(pool *pgxpool.Pool) *TokenHandler {
	return &TokenHandler{pool: pool}
}

// Exchange handles POST /token.
func (h *TokenHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	app, ok := auth.AppFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var request oauth2.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		WriteOAuth2Error(w, oauth2.E(oauth2.KindInvalidRequest, "Malformed JSON body"))
		return
	}

	response, exchangeErr := oauth2.ExchangeToken(r.Context(), h.pool, app, request)
	if exchangeErr != nil {
		WriteOAuth2Error(w, exchangeErr)
		return
	}

	WriteJSON(w, http.StatusOK, response)
}
