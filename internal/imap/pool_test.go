package imap

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gvso/nolas/internal/models"
	"github.com/gvso/nolas/internal/testutil"
)

// poolTestAccount builds an account pointing at the test server. Credentials
// are encrypted with the shared deterministic test key.
func poolTestAccount(t *testing.T, server *testutil.TestIMAPServer, id int64) *models.Account {
	t.Helper()

	host, portStr, err := net.SplitHostPort(server.Address)
	if err != nil {
		t.Fatalf("Failed to split server address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Failed to parse server port: %v", err)
	}

	credentials, err := testutil.GetTestEncryptor(t).Encrypt(server.Password())
	if err != nil {
		t.Fatalf("Failed to encrypt credentials: %v", err)
	}

	return &models.Account{
		ID:                   id,
		UUID:                 uuid.New(),
		Email:                server.Username(),
		EncryptedCredentials: credentials,
		IMAPHost:             host,
		IMAPPort:             port,
	}
}

func newTestPool(t *testing.T, cfg PoolConfig) *Pool {
	t.Helper()
	pool := NewPool(testutil.GetTestEncryptor(t), cfg)
	t.Cleanup(pool.CloseAll)
	return pool
}

func TestPoolGetAndReuse(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	pool := newTestPool(t, PoolConfig{})
	account := poolTestAccount(t, server, 1)

	first, err := pool.Get(context.Background(), account, "INBOX")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	pool.Release(first)

	second, err := pool.Get(context.Background(), account, "INBOX")
	if err != nil {
		t.Fatalf("Second Get failed: %v", err)
	}
	defer pool.Release(second)

	if first != second {
		t.Error("Expected the released session to be reused")
	}

	stats := pool.Stats()[account.IMAPHost]
	if stats.Total != 1 {
		t.Errorf("Expected 1 pooled session, got %d", stats.Total)
	}
	if stats.Active != 1 {
		t.Errorf("Expected 1 active session, got %d", stats.Active)
	}
}

func TestPoolSelectsFolderOnReuse(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	pool := newTestPool(t, PoolConfig{})
	account := poolTestAccount(t, server, 1)

	bare, err := pool.Get(context.Background(), account, "")
	if err != nil {
		t.Fatalf("Get without folder failed: %v", err)
	}
	if bare.Folder() != "" {
		t.Errorf("Expected no folder selected, got %q", bare.Folder())
	}
	pool.Release(bare)

	selected, err := pool.Get(context.Background(), account, "INBOX")
	if err != nil {
		t.Fatalf("Get with folder failed: %v", err)
	}
	defer pool.Release(selected)

	if selected != bare {
		t.Error("Expected the bare session to be reused for the folder request")
	}
	if selected.Folder() != "INBOX" {
		t.Errorf("Expected INBOX to be selected, got %q", selected.Folder())
	}
}

func TestPoolDistinctAccountsGetDistinctSessions(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	pool := newTestPool(t, PoolConfig{})
	first := poolTestAccount(t, server, 1)
	second := poolTestAccount(t, server, 2)

	s1, err := pool.Get(context.Background(), first, "INBOX")
	if err != nil {
		t.Fatalf("Get for first account failed: %v", err)
	}
	defer pool.Release(s1)

	s2, err := pool.Get(context.Background(), second, "INBOX")
	if err != nil {
		t.Fatalf("Get for second account failed: %v", err)
	}
	defer pool.Release(s2)

	if s1 == s2 {
		t.Error("Expected different sessions for different accounts")
	}
	if stats := pool.Stats()[first.IMAPHost]; stats.Total != 2 {
		t.Errorf("Expected 2 pooled sessions, got %d", stats.Total)
	}
}

func TestPoolRespectsProviderCap(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	pool := newTestPool(t, PoolConfig{MaxPerProvider: 2})

	s1, err := pool.Get(context.Background(), poolTestAccount(t, server, 1), "INBOX")
	if err != nil {
		t.Fatalf("First Get failed: %v", err)
	}
	s2, err := pool.Get(context.Background(), poolTestAccount(t, server, 2), "INBOX")
	if err != nil {
		t.Fatalf("Second Get failed: %v", err)
	}
	defer pool.Release(s2)

	third := poolTestAccount(t, server, 3)
	provider := third.IMAPHost

	// Both slots are held, so a third account cannot establish a session
	// until one is closed.
	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	if _, err := pool.Get(ctx, third, "INBOX"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected third Get to block until deadline, got %v", err)
	}
	if stats := pool.Stats()[provider]; stats.Total != 2 {
		t.Errorf("Expected the cap to hold at 2 sessions, got %d", stats.Total)
	}

	pool.Close(s1)

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s3, err := pool.Get(ctx, third, "INBOX")
	if err != nil {
		t.Fatalf("Get after freeing a slot failed: %v", err)
	}
	defer pool.Release(s3)

	if stats := pool.Stats()[provider]; stats.Total != 2 {
		t.Errorf("Expected 2 sessions after replacement, got %d", stats.Total)
	}
}

func TestPoolEvictsDeadSessions(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	pool := newTestPool(t, PoolConfig{})
	account := poolTestAccount(t, server, 1)

	dead, err := pool.Get(context.Background(), account, "INBOX")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := dead.Client().Terminate(); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	pool.Release(dead)

	replacement, err := pool.Get(context.Background(), account, "INBOX")
	if err != nil {
		t.Fatalf("Get after killing the session failed: %v", err)
	}
	defer pool.Release(replacement)

	if replacement == dead {
		t.Error("Expected the dead session to be evicted, not reused")
	}
	if stats := pool.Stats()[account.IMAPHost]; stats.Total != 1 {
		t.Errorf("Expected 1 pooled session after eviction, got %d", stats.Total)
	}
}

func TestPoolCleanupIdle(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	pool := newTestPool(t, PoolConfig{})
	account := poolTestAccount(t, server, 1)

	s, err := pool.Get(context.Background(), account, "INBOX")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	pool.Release(s)

	time.Sleep(20 * time.Millisecond)
	if closed := pool.CleanupIdle(time.Millisecond); closed != 1 {
		t.Errorf("Expected cleanup to close 1 session, closed %d", closed)
	}
	if stats := pool.Stats()[account.IMAPHost]; stats.Total != 0 {
		t.Errorf("Expected no pooled sessions after cleanup, got %d", stats.Total)
	}

	// The freed slot allows a fresh session.
	replacement, err := pool.Get(context.Background(), account, "INBOX")
	if err != nil {
		t.Fatalf("Get after cleanup failed: %v", err)
	}
	pool.Release(replacement)
}

func TestPoolCleanupSkipsClaimedSessions(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	pool := newTestPool(t, PoolConfig{})
	account := poolTestAccount(t, server, 1)

	s, err := pool.Get(context.Background(), account, "INBOX")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer pool.Release(s)

	time.Sleep(20 * time.Millisecond)
	if closed := pool.CleanupIdle(time.Millisecond); closed != 0 {
		t.Errorf("Expected cleanup to skip the claimed session, closed %d", closed)
	}
}

func TestPoolCloseAll(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	pool := NewPool(testutil.GetTestEncryptor(t), PoolConfig{})
	account := poolTestAccount(t, server, 1)

	s, err := pool.Get(context.Background(), account, "INBOX")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	pool.Release(s)

	pool.CloseAll()
	pool.CloseAll() // safe to repeat

	if _, err := pool.Get(context.Background(), account, "INBOX"); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed after CloseAll, got %v", err)
	}
}

func TestPoolEstablishErrorNamesAccount(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	pool := newTestPool(t, PoolConfig{})
	account := poolTestAccount(t, server, 1)

	wrong, err := testutil.GetTestEncryptor(t).Encrypt("not-the-password")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	account.EncryptedCredentials = wrong

	_, err = pool.Get(context.Background(), account, "INBOX")
	if err == nil {
		t.Fatal("Expected establishment to fail with wrong credentials")
	}
	if !strings.Contains(err.Error(), account.Email) {
		t.Errorf("Expected error to name the account email, got %q", err.Error())
	}

	// The failed attempt must not leak its provider slot.
	if stats := pool.Stats()[account.IMAPHost]; stats.Total != 0 {
		t.Errorf("Expected no pooled sessions after failure, got %d", stats.Total)
	}
}
