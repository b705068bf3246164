package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gvso/nolas/internal/db"
	"github.com/gvso/nolas/internal/models"
	"github.com/gvso/nolas/internal/testutil"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		token  string
		ok     bool
	}{
		{"standard", "Bearer abc123", "abc123", true},
		{"lowercase scheme", "bearer abc123", "abc123", true},
		{"missing header", "", "", false},
		{"no token", "Bearer", "", false},
		{"wrong scheme", "Basic abc123", "", false},
		{"extra fields", "Bearer abc 123", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, ok := bearerToken(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.token, token)
		})
	}
}

func TestRequireApp(t *testing.T) {
	store := testutil.NewTestDB(t)

	apiKey := uuid.NewString()
	app, err := db.CreateApp(context.Background(), store, &models.App{
		Name:   "middleware-test",
		APIKey: apiKey,
	})
	require.NoError(t, err)

	handler := RequireApp(store, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := AppFromContext(r.Context())
		require.True(t, ok, "expected app in context")
		assert.Equal(t, app.ID, got.ID)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allows a request with a known API key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/token", nil)
		req.Header.Set("Authorization", "Bearer "+apiKey)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("rejects a missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/token", nil)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("rejects an unknown key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/token", nil)
		req.Header.Set("Authorization", "Bearer "+uuid.NewString())

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("rejects a non-bearer scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/token", nil)
		req.Header.Set("Authorization", "Basic "+apiKey)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
