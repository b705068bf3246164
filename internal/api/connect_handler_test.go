package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gvso/nolas/internal/db"
	"github.com/gvso/nolas/internal/imap"
	"github.com/gvso/nolas/internal/models"
	"github.com/gvso/nolas/internal/oauth2"
	"github.com/gvso/nolas/internal/testutil"
)

const testRedirectURI = "https://x.test/cb"

// apiFixture wires a connect handler against the shared test database and a
// plain-TCP IMAP server for trial logins.
type apiFixture struct {
	store   *pgxpool.Pool
	server  *testutil.TestIMAPServer
	handler *ConnectHandler
	app     *models.App
}

func newAPIFixture(t *testing.T, store *pgxpool.Pool, name string) *apiFixture {
	t.Helper()

	server := testutil.NewTestIMAPServer(t)
	t.Cleanup(server.Close)
	server.EnsureINBOX(t)

	app, err := db.CreateApp(context.Background(), store, &models.App{
		Name:       name,
		APIKey:     uuid.NewString(),
		WebhookURL: "https://app.example.com/hooks",
	})
	require.NoError(t, err)

	controller := oauth2.NewAuthorizationControllerWithVerifier(store, testutil.GetTestEncryptor(t),
		func(host string, port int, email, password string) error {
			return imap.VerifyLogin(host, port, false, 5*time.Second, email, password)
		})

	return &apiFixture{
		store:   store,
		server:  server,
		handler: NewConnectHandler(store, controller),
		app:     app,
	}
}

// imapEndpoint returns the test server's host and port.
func (f *apiFixture) imapEndpoint(t *testing.T) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(f.server.Address)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

// processForm posts the authorization form with valid test-server
// credentials plus the given overrides.
func (f *apiFixture) processForm(t *testing.T, overrides url.Values) *httptest.ResponseRecorder {
	t.Helper()

	host, port := f.imapEndpoint(t)
	form := url.Values{
		"client_id":    {f.app.UUID.String()},
		"redirect_uri": {testRedirectURI},
		"state":        {"xyz"},
		"email":        {f.server.Username()},
		"password":     {f.server.Password()},
		"imap_host":    {host},
		"imap_port":    {strconv.Itoa(port)},
		"smtp_host":    {"smtp.example.com"},
		"smtp_port":    {"587"},
	}
	for key, values := range overrides {
		form[key] = values
	}

	req := httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	f.handler.Process(rr, req)
	return rr
}

func decodeProcess(t *testing.T, rr *httptest.ResponseRecorder) processResponse {
	t.Helper()
	var response processResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	return response
}

func TestAuthForm(t *testing.T) {
	store := testutil.NewTestDB(t)
	fixture := newAPIFixture(t, store, "auth-form")

	authQuery := func(overrides map[string]string) url.Values {
		query := url.Values{
			"client_id":     {fixture.app.UUID.String()},
			"redirect_uri":  {testRedirectURI},
			"state":         {"xyz"},
			"response_type": {"code"},
		}
		for key, value := range overrides {
			query.Set(key, value)
		}
		return query
	}

	get := func(query url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth?"+query.Encode(), nil)
		rr := httptest.NewRecorder()
		fixture.handler.AuthForm(rr, req)
		return rr
	}

	t.Run("renders the form for valid parameters", func(t *testing.T) {
		rr := get(authQuery(map[string]string{"login_hint": "user@test.com"}))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "auth-form")
		assert.Contains(t, rr.Body.String(), testRedirectURI)
		assert.Contains(t, rr.Body.String(), "user@test.com")
	})

	t.Run("rejects response_type other than code", func(t *testing.T) {
		rr := get(authQuery(map[string]string{"response_type": "token"}))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "response_type")
	})

	t.Run("rejects a redirect_uri without scheme or host", func(t *testing.T) {
		rr := get(authQuery(map[string]string{"redirect_uri": "x.test/cb"}))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "redirect_uri")
	})

	t.Run("malformed and unknown client ids share one error", func(t *testing.T) {
		malformed := get(authQuery(map[string]string{"client_id": "not-a-uuid"}))
		unknown := get(authQuery(map[string]string{"client_id": uuid.NewString()}))

		assert.Equal(t, http.StatusBadRequest, malformed.Code)
		assert.Equal(t, http.StatusBadRequest, unknown.Code)
		assert.Equal(t, malformed.Body.String(), unknown.Body.String())
	})
}

func TestProcess(t *testing.T) {
	store := testutil.NewTestDB(t)

	t.Run("valid credentials yield a redirect with a code", func(t *testing.T) {
		fixture := newAPIFixture(t, store, "process-happy")
		rr := fixture.processForm(t, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		response := decodeProcess(t, rr)
		require.True(t, response.Success)

		redirect, err := url.Parse(response.RedirectURL)
		require.NoError(t, err)
		assert.Equal(t, "x.test", redirect.Host)
		assert.Equal(t, "/cb", redirect.Path)
		assert.Equal(t, "xyz", redirect.Query().Get("state"))
		assert.Equal(t, "nolas", redirect.Query().Get("source"))

		code := redirect.Query().Get("code")
		require.NotEmpty(t, code)
		entry, err := db.GetAuthorizationCodeByCode(context.Background(), store, code)
		require.NoError(t, err)
		assert.Equal(t, fixture.app.ID, entry.AppID)
		assert.Equal(t, testRedirectURI, entry.RedirectURI)
	})

	t.Run("wrong password is rejected without recording", func(t *testing.T) {
		fixture := newAPIFixture(t, store, "process-wrongpass")
		rr := fixture.processForm(t, url.Values{"password": {"wrong"}})
		require.Equal(t, http.StatusBadRequest, rr.Code)

		response := decodeProcess(t, rr)
		assert.False(t, response.Success)
		assert.Contains(t, response.Error, "credentials")
	})

	t.Run("invalid redirect_uri", func(t *testing.T) {
		fixture := newAPIFixture(t, store, "process-badredirect")
		rr := fixture.processForm(t, url.Values{"redirect_uri": {"no-scheme"}})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeProcess(t, rr).Error, "redirect_uri")
	})

	t.Run("unknown client_id", func(t *testing.T) {
		fixture := newAPIFixture(t, store, "process-unknownclient")
		rr := fixture.processForm(t, url.Values{"client_id": {uuid.NewString()}})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "Invalid client_id", decodeProcess(t, rr).Error)
	})

	t.Run("missing credentials fields", func(t *testing.T) {
		fixture := newAPIFixture(t, store, "process-missing")
		rr := fixture.processForm(t, url.Values{"email": {""}})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.False(t, decodeProcess(t, rr).Success)
	})
}
