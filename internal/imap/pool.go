package imap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gvso/nolas/internal/crypto"
	"github.com/gvso/nolas/internal/metrics"
	"github.com/gvso/nolas/internal/models"
)

const (
	// defaultMaxPerProvider caps live sessions against one provider host.
	defaultMaxPerProvider = 10
	// defaultDialTimeout bounds the TCP/TLS handshake.
	defaultDialTimeout = 30 * time.Second
	// defaultCommandTimeout is applied to every client for regular commands.
	defaultCommandTimeout = 5 * time.Minute
	// defaultProbeTimeout bounds the NOOP liveness check on reuse.
	defaultProbeTimeout = 5 * time.Second
	// defaultIdleMaxAge is the idle age after which cleanup closes a session.
	defaultIdleMaxAge = 10 * time.Minute
	// cleanupInterval is how often the background cleanup runs.
	cleanupInterval = 1 * time.Minute
)

// ErrPoolClosed is returned by Get after CloseAll.
var ErrPoolClosed = errors.New("imap pool is closed")

// PoolConfig carries the pool knobs. Zero values fall back to defaults,
// except UseTLS which must be set explicitly for production.
type PoolConfig struct {
	// MaxPerProvider caps live sessions per provider host.
	MaxPerProvider int
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
	// CommandTimeout is the per-command deadline on pooled clients.
	CommandTimeout time.Duration
	// ProbeTimeout bounds the NOOP probe before a session is reused.
	ProbeTimeout time.Duration
	// IdleMaxAge is the age after which an unclaimed session is closed.
	IdleMaxAge time.Duration
	// UseTLS selects TLS on 993-style endpoints. Tests run plain TCP.
	UseTLS bool
	// Collector receives pool metrics. Nil disables them.
	Collector metrics.Collector
}

// Pool manages IMAP sessions grouped by provider host.
//
// Sessions for the same account are reused across callers. Establishment is
// rate limited per provider and the number of live sessions per provider is
// bounded by a semaphore whose slot is held for the lifetime of the session,
// not just during creation.
type Pool struct {
	cfg       PoolConfig
	encryptor *crypto.Encryptor
	collector metrics.Collector

	mu       sync.Mutex
	sessions map[string][]*Session
	slots    map[string]chan struct{}
	limiters map[string]*RateLimiter
	closed   bool

	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
}

// NewPool creates a pool that decrypts account credentials with encryptor.
// A background goroutine closes stale sessions every minute until CloseAll.
func NewPool(encryptor *crypto.Encryptor, cfg PoolConfig) *Pool {
	if cfg.MaxPerProvider <= 0 {
		cfg.MaxPerProvider = defaultMaxPerProvider
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.IdleMaxAge <= 0 {
		cfg.IdleMaxAge = defaultIdleMaxAge
	}
	collector := cfg.Collector
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:           cfg,
		encryptor:     encryptor,
		collector:     collector,
		sessions:      make(map[string][]*Session),
		slots:         make(map[string]chan struct{}),
		limiters:      make(map[string]*RateLimiter),
		cleanupCtx:    ctx,
		cleanupCancel: cancel,
	}
	p.startCleanup()
	return p
}

// Get returns a live session for the account, claimed for exclusive use
// until Release or Close. folder, when non-empty, is selected on the
// session. An existing session is reused when it belongs to the same
// account, is not claimed and either has the requested folder selected or
// none at all.
func (p *Pool) Get(ctx context.Context, account *models.Account, folder string) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	provider := account.IMAPHost

	start := time.Now()
	if err := p.limiter(provider).Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.collector.RateLimitWaited(provider, time.Since(start))

	// Prefer an existing session. A dead one is evicted and the scan runs
	// once more before falling through to allocation.
	for attempt := 0; attempt < 2; attempt++ {
		s := p.claim(provider, account.ID, folder)
		if s == nil {
			break
		}
		if err := p.reviveForUse(s, folder); err != nil {
			log.Printf("IMAP pool: evicting dead session for %s: %v", account.Email, err)
			p.collector.ConnectionEvicted(provider)
			p.Close(s)
			continue
		}
		p.mu.Lock()
		s.lastUsed = time.Now()
		p.mu.Unlock()
		p.collector.ConnectionReused(provider)
		return s, nil
	}

	// No reusable session. The slot is held for the lifetime of the session
	// so the per-provider cap bounds live sessions, not just creation.
	slot := p.slot(provider)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s, err := p.establish(account, folder)
	if err != nil {
		<-slot
		return nil, fmt.Errorf("establishing IMAP session for %s: %w", account.Email, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = s.client.Terminate()
		s.mu.Unlock()
		<-slot
		return nil, ErrPoolClosed
	}
	p.sessions[provider] = append(p.sessions[provider], s)
	p.mu.Unlock()

	p.collector.ConnectionOpened(provider)
	return s, nil
}

// Release returns a claimed session to the pool for reuse.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	s.idling = false
	s.lastUsed = time.Now()
	p.mu.Unlock()
	s.mu.Unlock()
}

// Close removes a claimed session from the pool and shuts it down. Logout
// failures are logged, not returned.
func (p *Pool) Close(s *Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	found := p.removeLocked(s)
	p.mu.Unlock()

	p.shutdown(s)
	s.mu.Unlock()

	if found {
		<-p.slot(s.provider)
		p.collector.ConnectionClosed(s.provider)
	}
}

// StartIdle marks a claimed session as idling and clears the command timeout
// so the blocking IDLE is not cut short.
func (p *Pool) StartIdle(s *Session) {
	p.mu.Lock()
	s.idling = true
	p.mu.Unlock()
	s.client.Timeout = 0
}

// StopIdle restores the command timeout after IDLE ends.
func (p *Pool) StopIdle(s *Session) {
	p.mu.Lock()
	s.idling = false
	s.lastUsed = time.Now()
	p.mu.Unlock()
	s.client.Timeout = p.cfg.CommandTimeout
}

// ProviderStats summarizes pool occupancy for one provider host.
type ProviderStats struct {
	Total  int
	Idle   int
	Active int
}

// Stats returns per-provider occupancy. A session counts as active while
// claimed, including sessions parked in IDLE.
func (p *Pool) Stats() map[string]ProviderStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]ProviderStats, len(p.sessions))
	for provider, list := range p.sessions {
		st := ProviderStats{Total: len(list)}
		for _, s := range list {
			if s.mu.TryLock() {
				s.mu.Unlock()
				st.Idle++
			} else {
				st.Active++
			}
		}
		out[provider] = st
	}
	return out
}

// CloseAll drains every session and stops the cleanup goroutine. Safe to
// call more than once.
func (p *Pool) CloseAll() {
	p.cleanupCancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	sessions := p.sessions
	p.sessions = make(map[string][]*Session)
	p.mu.Unlock()

	for provider, list := range sessions {
		for _, s := range list {
			if s.mu.TryLock() {
				p.shutdown(s)
				s.mu.Unlock()
			} else {
				// Claimed by someone else. Drop the link anyway, we are
				// shutting down.
				_ = s.client.Terminate()
			}
			p.collector.ConnectionClosed(provider)
		}
	}
}

// claim scans the provider list for a session of the account that is not in
// use, locking it for the caller. A session qualifies when the requested
// folder is already selected, when it has no folder selected yet, or when
// the caller does not ask for one.
func (p *Pool) claim(provider string, accountID int64, folder string) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.sessions[provider] {
		if s.accountID != accountID {
			continue
		}
		if !s.mu.TryLock() {
			continue
		}
		if s.idling || (folder != "" && s.folder != "" && s.folder != folder) {
			s.mu.Unlock()
			continue
		}
		return s
	}
	return nil
}

// reviveForUse probes a claimed session and selects the requested folder
// when the session has none yet.
func (p *Pool) reviveForUse(s *Session, folder string) error {
	if err := s.probe(p.cfg.ProbeTimeout); err != nil {
		return err
	}
	if folder == "" || s.folder == folder {
		return nil
	}
	if _, err := s.client.Select(folder, false); err != nil {
		return fmt.Errorf("selecting %s: %w", folder, err)
	}
	p.mu.Lock()
	s.folder = folder
	p.mu.Unlock()
	return nil
}

// establish dials and authenticates a fresh session. The returned session is
// already claimed by the caller.
func (p *Pool) establish(account *models.Account, folder string) (*Session, error) {
	password, err := p.encryptor.Decrypt(account.EncryptedCredentials)
	if err != nil {
		return nil, fmt.Errorf("decrypting credentials: %w", err)
	}

	c, err := ConnectToIMAP(account.Addr(), p.cfg.UseTLS, p.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}
	if err := Login(c, account.Email, password); err != nil {
		_ = c.Logout()
		return nil, err
	}
	c.Timeout = p.cfg.CommandTimeout

	s := &Session{
		client:    c,
		provider:  account.IMAPHost,
		accountID: account.ID,
		email:     account.Email,
		lastUsed:  time.Now(),
	}
	if folder != "" {
		if _, err := c.Select(folder, false); err != nil {
			_ = c.Logout()
			return nil, fmt.Errorf("selecting %s: %w", folder, err)
		}
		s.folder = folder
	}
	s.mu.Lock()
	return s, nil
}

// shutdown logs out a session, dropping the link when logout fails. The
// caller must hold the session lock.
func (p *Pool) shutdown(s *Session) {
	s.client.Timeout = p.cfg.ProbeTimeout
	if err := s.client.Logout(); err != nil {
		log.Printf("IMAP pool: logout failed for %s: %v", s.email, err)
		_ = s.client.Terminate()
	}
}

// removeLocked unlinks a session from its provider list. The caller must
// hold the pool mutex. Reports whether the session was present.
func (p *Pool) removeLocked(s *Session) bool {
	list := p.sessions[s.provider]
	for i, candidate := range list {
		if candidate == s {
			p.sessions[s.provider] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// slot returns the provider's session-cap semaphore.
func (p *Pool) slot(provider string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.slots[provider]
	if !ok {
		ch = make(chan struct{}, p.cfg.MaxPerProvider)
		p.slots[provider] = ch
	}
	return ch
}

// limiter returns the provider's establishment rate limiter. The rate is one
// below the session cap with the cap as burst, floored for tiny caps.
func (p *Pool) limiter(provider string) *RateLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	rl, ok := p.limiters[provider]
	if !ok {
		rate := float64(p.cfg.MaxPerProvider - 1)
		if rate < 1 {
			rate = 1
		}
		rl = NewRateLimiter(rate, p.cfg.MaxPerProvider)
		p.limiters[provider] = rl
	}
	return rl
}
