package imap

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
)

// Session wraps a live IMAP connection owned by the pool.
//
// Each session has its own mutex. A caller that obtains a session through
// Pool.Get holds the mutex until Release or Close, so access to the
// underlying client is serialized while different sessions stay concurrent.
// lastUsed and idling are guarded by the pool mutex because cleanup and
// stats walk sessions without claiming them.
type Session struct {
	mu sync.Mutex

	client    *client.Client
	provider  string
	accountID int64
	email     string
	folder    string // currently selected folder, empty when none
	idling    bool
	lastUsed  time.Time
}

// Client returns the underlying IMAP client. The caller must have claimed
// the session via Pool.Get.
func (s *Session) Client() *client.Client {
	return s.client
}

// Folder returns the folder selected on this session, or "" when none is.
func (s *Session) Folder() string {
	return s.folder
}

// probe checks liveness with a NOOP under a short deadline. The caller must
// hold the session lock.
func (s *Session) probe(timeout time.Duration) error {
	prev := s.client.Timeout
	s.client.Timeout = timeout
	err := s.client.Noop()
	s.client.Timeout = prev
	return err
}

// ConnectToIMAP dials an IMAP server.
// useTLS: true for production (TLS), false for tests (plain TCP).
func ConnectToIMAP(addr string, useTLS bool, timeout time.Duration) (*client.Client, error) {
	dialer := &net.Dialer{
		Timeout: timeout,
	}

	if useTLS {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid IMAP address %q: %w", addr, err)
		}
		c, err := client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: host})
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return c, nil
	}

	c, err := client.DialWithDialer(dialer, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return c, nil
}

// Login authenticates with the IMAP server.
func Login(c *client.Client, username, password string) error {
	if err := c.Login(username, password); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	return nil
}

// VerifyLogin dials host:port, authenticates and logs out immediately. It is
// used to check credentials before an account is stored.
func VerifyLogin(host string, port int, useTLS bool, timeout time.Duration, username, password string) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	c, err := ConnectToIMAP(addr, useTLS, timeout)
	if err != nil {
		return err
	}
	defer func() { _ = c.Logout() }()

	c.Timeout = timeout
	return Login(c, username, password)
}
