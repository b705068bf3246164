package imap

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/gvso/nolas/internal/testutil"
)

func TestConnectToIMAP(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	t.Run("connects and authenticates", func(t *testing.T) {
		c, err := ConnectToIMAP(server.Address, false, 5*time.Second)
		if err != nil {
			t.Fatalf("ConnectToIMAP failed: %v", err)
		}
		defer func() { _ = c.Logout() }()

		if err := Login(c, server.Username(), server.Password()); err != nil {
			t.Errorf("Login failed: %v", err)
		}
	})

	t.Run("fails on unreachable address", func(t *testing.T) {
		_, err := ConnectToIMAP("127.0.0.1:1", false, 500*time.Millisecond)
		if err == nil {
			t.Error("Expected dial error for unreachable address")
		}
	})
}

func TestVerifyLogin(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	host, portStr, err := net.SplitHostPort(server.Address)
	if err != nil {
		t.Fatalf("Failed to split server address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Failed to parse server port: %v", err)
	}

	t.Run("accepts valid credentials", func(t *testing.T) {
		if err := VerifyLogin(host, port, false, 5*time.Second, server.Username(), server.Password()); err != nil {
			t.Errorf("VerifyLogin failed: %v", err)
		}
	})

	t.Run("rejects wrong password", func(t *testing.T) {
		if err := VerifyLogin(host, port, false, 5*time.Second, server.Username(), "wrong"); err == nil {
			t.Error("Expected authentication error")
		}
	})
}
