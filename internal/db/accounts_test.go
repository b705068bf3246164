package db

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gvso/nolas/internal/models"
	"github.com/gvso/nolas/internal/testutil"
)

func createTestApp(t *testing.T, pool *pgxpool.Pool, name string) *models.App {
	t.Helper()

	app, err := CreateApp(context.Background(), pool, &models.App{
		Name:          name,
		APIKey:        uuid.NewString(),
		WebhookURL:    "https://app.example.com/hooks",
		WebhookSecret: "hook-secret",
	})
	if err != nil {
		t.Fatalf("CreateApp failed: %v", err)
	}
	return app
}

func createTestAccount(t *testing.T, pool *pgxpool.Pool, appID int64, email string) *models.Account {
	t.Helper()

	account, err := UpsertAccount(context.Background(), pool, &models.Account{
		AppID:                appID,
		Email:                email,
		Provider:             "imap",
		EncryptedCredentials: []byte("sealed"),
		IMAPHost:             "imap.purelymail.com",
		IMAPPort:             993,
		SMTPHost:             "smtp.purelymail.com",
		SMTPPort:             587,
	})
	if err != nil {
		t.Fatalf("UpsertAccount failed: %v", err)
	}
	return account
}

func TestApps(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	t.Run("create assigns a uuid", func(t *testing.T) {
		app := createTestApp(t, pool, "apps-create")
		if app.UUID == uuid.Nil {
			t.Error("Expected a generated uuid")
		}
	})

	t.Run("lookups by uuid, api key and id agree", func(t *testing.T) {
		app := createTestApp(t, pool, "apps-lookup")

		byUUID, err := GetAppByUUID(ctx, pool, app.UUID)
		if err != nil {
			t.Fatalf("GetAppByUUID failed: %v", err)
		}
		byKey, err := GetAppByAPIKey(ctx, pool, app.APIKey)
		if err != nil {
			t.Fatalf("GetAppByAPIKey failed: %v", err)
		}
		byID, err := GetAppByID(ctx, pool, app.ID)
		if err != nil {
			t.Fatalf("GetAppByID failed: %v", err)
		}
		if byUUID.ID != app.ID || byKey.ID != app.ID || byID.ID != app.ID {
			t.Error("Lookups disagree on the app identity")
		}
	})

	t.Run("unknown app yields ErrAppNotFound", func(t *testing.T) {
		if _, err := GetAppByAPIKey(ctx, pool, "no-such-key"); !errors.Is(err, ErrAppNotFound) {
			t.Errorf("Expected ErrAppNotFound, got %v", err)
		}
	})
}

func TestAccounts(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	t.Run("upsert creates pending and keeps the uuid on refresh", func(t *testing.T) {
		app := createTestApp(t, pool, "accounts-upsert")
		created := createTestAccount(t, pool, app.ID, "upsert@test.com")
		if created.Status != models.AccountStatusPending {
			t.Errorf("Expected status pending, got %s", created.Status)
		}

		if err := UpdateAccountStatus(ctx, pool, created.ID, models.AccountStatusActive); err != nil {
			t.Fatalf("UpdateAccountStatus failed: %v", err)
		}

		refreshed, err := UpsertAccount(ctx, pool, &models.Account{
			AppID:                app.ID,
			Email:                "upsert@test.com",
			Provider:             "imap",
			EncryptedCredentials: []byte("resealed"),
			IMAPHost:             "imap.purelymail.com",
			IMAPPort:             1993,
			SMTPHost:             "smtp.purelymail.com",
			SMTPPort:             587,
		})
		if err != nil {
			t.Fatalf("Second UpsertAccount failed: %v", err)
		}

		if refreshed.ID != created.ID || refreshed.UUID != created.UUID {
			t.Error("Expected the refresh to keep the account identity")
		}
		if refreshed.Status != models.AccountStatusPending {
			t.Errorf("Expected re-authorization to reset status to pending, got %s", refreshed.Status)
		}
		if !bytes.Equal(refreshed.EncryptedCredentials, []byte("resealed")) {
			t.Error("Expected credentials to be overwritten")
		}
		if refreshed.IMAPPort != 1993 {
			t.Errorf("Expected port overwrite, got %d", refreshed.IMAPPort)
		}
	})

	t.Run("same email under two apps are distinct accounts", func(t *testing.T) {
		first := createTestApp(t, pool, "accounts-appone")
		second := createTestApp(t, pool, "accounts-apptwo")

		a := createTestAccount(t, pool, first.ID, "shared@test.com")
		b := createTestAccount(t, pool, second.ID, "shared@test.com")
		if a.ID == b.ID {
			t.Error("Expected distinct accounts per app")
		}
	})

	t.Run("list by status", func(t *testing.T) {
		app := createTestApp(t, pool, "accounts-list")
		active := createTestAccount(t, pool, app.ID, "active@test.com")
		createTestAccount(t, pool, app.ID, "pending@test.com")
		if err := UpdateAccountStatus(ctx, pool, active.ID, models.AccountStatusActive); err != nil {
			t.Fatalf("UpdateAccountStatus failed: %v", err)
		}

		accounts, err := ListAccountsByStatus(ctx, pool, models.AccountStatusActive)
		if err != nil {
			t.Fatalf("ListAccountsByStatus failed: %v", err)
		}
		found := false
		for _, account := range accounts {
			if account.ID == active.ID {
				found = true
			}
			if account.Status != models.AccountStatusActive {
				t.Errorf("Unexpected status %s in active listing", account.Status)
			}
		}
		if !found {
			t.Error("Expected the activated account in the listing")
		}
	})

	t.Run("status update on a missing account", func(t *testing.T) {
		err := UpdateAccountStatus(ctx, pool, 999999, models.AccountStatusDisabled)
		if !errors.Is(err, ErrAccountNotFound) {
			t.Errorf("Expected ErrAccountNotFound, got %v", err)
		}
	})
}

func TestConnectionHealth(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	app := createTestApp(t, pool, "health")
	account := createTestAccount(t, pool, app.ID, "health@test.com")

	t.Run("failures accumulate and success resets", func(t *testing.T) {
		for want := 1; want <= 3; want++ {
			failures, err := RecordConnectionFailure(ctx, pool, account.ID, "INBOX", "dial timeout")
			if err != nil {
				t.Fatalf("RecordConnectionFailure failed: %v", err)
			}
			if failures != want {
				t.Errorf("Expected %d consecutive failures, got %d", want, failures)
			}
		}

		if err := RecordConnectionSuccess(ctx, pool, account.ID, "INBOX"); err != nil {
			t.Fatalf("RecordConnectionSuccess failed: %v", err)
		}

		health, err := GetConnectionHealth(ctx, pool, account.ID, "INBOX")
		if err != nil {
			t.Fatalf("GetConnectionHealth failed: %v", err)
		}
		if health.ConsecutiveFailures != 0 {
			t.Errorf("Expected counter reset, got %d", health.ConsecutiveFailures)
		}
		if health.LastSuccessAt == nil || health.LastFailureAt == nil {
			t.Error("Expected both timestamps to be recorded")
		}
	})

	t.Run("missing row", func(t *testing.T) {
		_, err := GetConnectionHealth(ctx, pool, account.ID, "Archive")
		if !errors.Is(err, ErrConnectionHealthNotFound) {
			t.Errorf("Expected ErrConnectionHealthNotFound, got %v", err)
		}
	})
}
