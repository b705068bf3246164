// Package auth authenticates calling applications. The token endpoint is
// protected by a Bearer API key resolved to the registered App.
package auth

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gvso/nolas/internal/db"
	"github.com/gvso/nolas/internal/models"
)

type contextKey string

// appKey is the context key under which the authenticated app is stored.
const appKey contextKey = "app"

// RequireApp checks for a valid Bearer API key in the Authorization header,
// resolves it to an application and stores it in the request context for
// downstream handlers. Returns 401 Unauthorized when authentication fails.
func RequireApp(pool *pgxpool.Pool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			log.Println("Auth: missing or malformed Authorization header")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		app, err := db.GetAppByAPIKey(r.Context(), pool, apiKey)
		if err != nil {
			// Unknown and malformed keys get the same response.
			log.Println("Auth: API key rejected")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), appKey, app)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AppFromContext returns the authenticated app stored by RequireApp.
func AppFromContext(ctx context.Context) (*models.App, bool) {
	app, ok := ctx.Value(appKey).(*models.App)
	return app, ok
}

// bearerToken extracts the token from an Authorization header. The Bearer
// scheme is case-insensitive per RFC 7235.
func bearerToken(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}
	return fields[1], true
}
