package oauth2

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gvso/nolas/internal/crypto"
	"github.com/gvso/nolas/internal/db"
	"github.com/gvso/nolas/internal/imap"
	"github.com/gvso/nolas/internal/models"
)

// codeLifetime is how long an issued authorization code stays exchangeable.
const codeLifetime = 10 * time.Minute

// LoginVerifier checks mail credentials against an IMAP endpoint. The
// default dials with TLS; tests substitute a plain-TCP verifier.
type LoginVerifier func(host string, port int, email, password string) error

// AuthorizationRequest carries the fields of the submitted authorization
// form. Ports default to 993/587 at the HTTP layer.
type AuthorizationRequest struct {
	RedirectURI string
	Scope       string
	Email       string
	Password    string
	IMAPHost    string
	IMAPPort    int
	SMTPHost    string
	SMTPPort    int
}

// AuthorizationController verifies credentials by a trial IMAP login, upserts
// the account and issues the single-use authorization code. It is the sole
// writer of the (app, email) -> account mapping.
type AuthorizationController struct {
	store     *pgxpool.Pool
	encryptor *crypto.Encryptor
	verify    LoginVerifier
}

// NewAuthorizationController builds a controller using a TLS trial login
// bounded by timeout.
func NewAuthorizationController(store *pgxpool.Pool, encryptor *crypto.Encryptor, timeout time.Duration) *AuthorizationController {
	return &AuthorizationController{
		store:     store,
		encryptor: encryptor,
		verify: func(host string, port int, email, password string) error {
			return imap.VerifyLogin(host, port, true, timeout, email, password)
		},
	}
}

// NewAuthorizationControllerWithVerifier builds a controller with a custom
// login verifier. Used by tests running against a plain-TCP server.
func NewAuthorizationControllerWithVerifier(store *pgxpool.Pool, encryptor *crypto.Encryptor, verify LoginVerifier) *AuthorizationController {
	return &AuthorizationController{store: store, encryptor: encryptor, verify: verify}
}

// ValidRedirectURI reports whether uri parses with an http or https scheme
// and a non-empty host.
func ValidRedirectURI(uri string) bool {
	parsed, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// ProcessAuthorization runs the authorization steps for app and returns the
// issued code. A failed trial login leaves no trace in the database.
func (c *AuthorizationController) ProcessAuthorization(ctx context.Context, app *models.App, req AuthorizationRequest) (string, *Error) {
	if !ValidRedirectURI(req.RedirectURI) {
		return "", E(KindInvalidRequest, "Invalid redirect_uri format")
	}

	if err := c.verify(req.IMAPHost, req.IMAPPort, req.Email, req.Password); err != nil {
		log.Printf("OAuth2: trial IMAP login failed for %s at %s:%d: %v", req.Email, req.IMAPHost, req.IMAPPort, err)
		return "", E(KindInvalidCredentials, "Unable to connect to IMAP server. Please check your credentials and try again.")
	}

	credentials, err := c.encryptor.Encrypt(req.Password)
	if err != nil {
		log.Printf("OAuth2: encrypting credentials for %s: %v", req.Email, err)
		return "", E(KindInternal, "Internal server error during authorization")
	}

	account, err := db.UpsertAccount(ctx, c.store, &models.Account{
		AppID:                app.ID,
		Email:                req.Email,
		Provider:             "imap",
		EncryptedCredentials: credentials,
		IMAPHost:             req.IMAPHost,
		IMAPPort:             req.IMAPPort,
		SMTPHost:             req.SMTPHost,
		SMTPPort:             req.SMTPPort,
	})
	if err != nil {
		log.Printf("OAuth2: upserting account for %s: %v", req.Email, err)
		return "", E(KindInternal, "Internal server error during authorization")
	}

	code, err := IssueCode(ctx, c.store, app, account, req.RedirectURI, req.Scope)
	if err != nil {
		log.Printf("OAuth2: issuing code for %s: %v", req.Email, err)
		return "", E(KindInternal, "Internal server error during authorization")
	}

	log.Printf("OAuth2: issued code %s… for account %s (app %s)",
		models.CodePrefix(code), account.UUID, app.UUID)
	return code, nil
}

// IssueCode stores a fresh authorization code binding (app, account,
// redirect_uri, scope). The code carries 256 bits of entropy in a URL-safe
// encoding and expires after ten minutes.
func IssueCode(ctx context.Context, store *pgxpool.Pool, app *models.App, account *models.Account, redirectURI, scope string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating authorization code: %w", err)
	}
	code := base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now().UTC()
	if _, err := db.InsertAuthorizationCode(ctx, store, &models.AuthorizationCode{
		Code:        code,
		AppID:       app.ID,
		AccountID:   account.ID,
		RedirectURI: redirectURI,
		Scope:       scope,
		IssuedAt:    now,
		ExpiresAt:   now.Add(codeLifetime),
	}); err != nil {
		return "", err
	}

	return code, nil
}
