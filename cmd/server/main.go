// The server command runs the nolas authorization API: the hosted
// authorization form, the credential-processing endpoint and the token
// exchange.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gvso/nolas/internal/api"
	"github.com/gvso/nolas/internal/auth"
	"github.com/gvso/nolas/internal/config"
	"github.com/gvso/nolas/internal/crypto"
	"github.com/gvso/nolas/internal/db"
	"github.com/gvso/nolas/internal/oauth2"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	log.Printf("Successfully connected to database")

	server := NewServer(cfg, pool)

	address := ":" + cfg.Port
	log.Printf("nolas API server starting on %s (environment: %s)", address, cfg.Environment)

	if err := http.ListenAndServe(address, server); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// NewServer creates and returns the HTTP handler for the nolas OAuth2 API.
func NewServer(cfg *config.Config, dbPool *pgxpool.Pool) http.Handler {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		log.Fatalf("Failed to create encryptor: %v", err)
	}

	controller := oauth2.NewAuthorizationController(dbPool, encryptor, cfg.IMAPTimeout)
	connectHandler := api.NewConnectHandler(dbPool, controller)
	tokenHandler := api.NewTokenHandler(dbPool)

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)

	mux.Handle("/auth", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		connectHandler.AuthForm(w, r)
	}))
	mux.Handle("/process", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		connectHandler.Process(w, r)
	}))
	mux.Handle("/token", auth.RequireApp(dbPool, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		tokenHandler.Exchange(w, r)
	})))

	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "nolas API is running")
}
