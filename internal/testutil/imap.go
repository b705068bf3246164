package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer is an in-memory IMAP server for pool, listener and
// authorization tests. It listens on plain TCP; production code switches
// TLS off through its config in tests.
type TestIMAPServer struct {
	Server  *server.Server
	Address string
	Backend *memory.Backend

	username string
	password string
}

// NewTestIMAPServer starts an IMAP server with the memory backend on a
// random local port. The backend ships a single user ("username" /
// "password"); accounts under test authenticate as that user.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	be := memory.New()
	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		if err := s.Serve(listener); err != nil {
			t.Logf("IMAP server error: %v", err)
		}
	}()

	return &TestIMAPServer{
		Server:   s,
		Address:  listener.Addr().String(),
		Backend:  be,
		username: "username",
		password: "password",
	}
}

// Close shuts down the test IMAP server.
func (s *TestIMAPServer) Close() {
	_ = s.Server.Close()
}

// Username returns the backend's fixed test username.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the backend's fixed test password.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// Connect opens an authenticated client connection to the test server.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	c, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	if err := c.Login(s.username, s.password); err != nil {
		_ = c.Logout()
		t.Fatalf("Failed to login: %v", err)
	}

	return c, func() { _ = c.Logout() }
}

// EnsureINBOX makes sure the INBOX folder exists for the test user.
func (s *TestIMAPServer) EnsureINBOX(t *testing.T) {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := c.Select("INBOX", false); err == nil {
		return
	}
	if err := c.Create("INBOX"); err != nil {
		t.Fatalf("Failed to create INBOX: %v", err)
	}
	if _, err := c.Select("INBOX", false); err != nil {
		t.Fatalf("Failed to select INBOX: %v", err)
	}
}

// AddMessage appends a minimal RFC 822 message to the folder and returns
// its UID so tests can assert on sync cursors.
func (s *TestIMAPServer) AddMessage(t *testing.T, folderName, messageID, subject, from, to string, sentAt time.Time) uint32 {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := c.Select(folderName, false); err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}

	body := fmt.Sprintf(`Message-ID: %s
Date: %s
From: %s
To: %s
Subject: %s
Content-Type: text/plain; charset=utf-8

Test message body.
`, messageID, sentAt.Format(time.RFC1123Z), from, to, subject)

	if err := c.Append(folderName, nil, time.Now(), strings.NewReader(body)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}

	// The append response carries no UID; find the message again by its
	// Message-ID header.
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", messageID)
	uids, err := c.UidSearch(criteria)
	if err != nil {
		t.Fatalf("Failed to search for message: %v", err)
	}
	if len(uids) == 0 {
		t.Fatal("Message not found after append")
	}

	return uids[0]
}
