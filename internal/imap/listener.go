package imap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gvso/nolas/internal/db"
	"github.com/gvso/nolas/internal/metrics"
	"github.com/gvso/nolas/internal/models"
)

const (
	// defaultIdleRefresh keeps IDLE cycles under the 29-minute guideline.
	defaultIdleRefresh = 29 * time.Minute
	// defaultMaxFailures is the consecutive-failure ceiling before the
	// account is marked failed.
	defaultMaxFailures = 20
	// maxBackoff caps the delay between reconnect attempts.
	maxBackoff = 300 * time.Second
	// idleFallbackPoll is the polling interval on servers without IDLE.
	idleFallbackPoll = 5 * time.Second
	// updateBuffer sizes the unsolicited-update channel.
	updateBuffer = 10
)

// ErrProviderNotAllowed is returned when an account's IMAP host is not in
// the configured provider allowlist.
var ErrProviderNotAllowed = errors.New("imap provider not allowed")

// ListenerState describes what a listener is currently doing.
type ListenerState string

const (
	// StateStarting means the listener is establishing its session.
	StateStarting ListenerState = "starting"
	// StateSyncing means the listener is catching up on new messages.
	StateSyncing ListenerState = "syncing"
	// StateIdling means the listener is parked in IDLE.
	StateIdling ListenerState = "idling"
	// StateBackingOff means the listener sleeps before a reconnect.
	StateBackingOff ListenerState = "backing_off"
	// StateStopped means the listener exited cleanly.
	StateStopped ListenerState = "stopped"
	// StateFailed means the listener hit the failure ceiling and gave up.
	StateFailed ListenerState = "failed"
)

// Sink receives the message records a listener observes. Emit must durably
// capture the record before returning; the listener advances its UID cursor
// only after the whole batch was accepted.
type Sink interface {
	Emit(ctx context.Context, account *models.Account, folder string, record models.MessageRecord) error
}

// ListenerConfig carries the knobs for one listener.
type ListenerConfig struct {
	// Folder to watch. Defaults to INBOX.
	Folder string
	// IdleRefresh bounds a single IDLE before the loop re-issues it.
	IdleRefresh time.Duration
	// MaxFailures is the consecutive-failure ceiling. Accumulating more
	// than this many failures marks the account failed and stops the
	// listener.
	MaxFailures int
	// Providers is the allowed IMAP host list. Empty allows every host.
	Providers []string
	// Collector receives listener metrics. Nil disables them.
	Collector metrics.Collector
}

// Listener watches one folder of one account and forwards every new message
// to its sink exactly once per observation.
type Listener struct {
	pool      *Pool
	store     *pgxpool.Pool
	sink      Sink
	account   models.Account
	cfg       ListenerConfig
	collector metrics.Collector

	mu    sync.Mutex
	state ListenerState
}

// NewListener creates a listener for one folder of an account.
func NewListener(pool *Pool, store *pgxpool.Pool, sink Sink, account models.Account, cfg ListenerConfig) *Listener {
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.IdleRefresh <= 0 {
		cfg.IdleRefresh = defaultIdleRefresh
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	collector := cfg.Collector
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	return &Listener{
		pool:      pool,
		store:     store,
		sink:      sink,
		account:   account,
		cfg:       cfg,
		collector: collector,
		state:     StateStarting,
	}
}

// State reports the listener's current phase.
func (l *Listener) State() ListenerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Listener) setState(state ListenerState) {
	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
}

// Run drives the listener until ctx is canceled or the failure ceiling is
// reached. It blocks.
func (l *Listener) Run(ctx context.Context) error {
	if !l.providerAllowed() {
		l.setState(StateFailed)
		cause := fmt.Sprintf("provider %s not allowed", l.account.IMAPHost)
		if _, err := db.RecordConnectionFailure(ctx, l.store, l.account.ID, l.cfg.Folder, cause); err != nil {
			log.Printf("IMAP listener: recording failure for %s:%s: %v", l.account.Email, l.cfg.Folder, err)
		}
		return fmt.Errorf("%s: %w", l.account.IMAPHost, ErrProviderNotAllowed)
	}

	l.collector.ListenerStarted()
	defer l.collector.ListenerStopped()

	for {
		err := l.cycle(ctx)
		if ctx.Err() != nil {
			l.setState(StateStopped)
			return ctx.Err()
		}
		if err == nil {
			l.setState(StateStopped)
			return nil
		}

		l.collector.ListenerFailure(l.account.IMAPHost)
		failures, dbErr := db.RecordConnectionFailure(ctx, l.store, l.account.ID, l.cfg.Folder, err.Error())
		if dbErr != nil {
			log.Printf("IMAP listener: recording failure for %s:%s: %v", l.account.Email, l.cfg.Folder, dbErr)
			failures = 1
		}
		log.Printf("IMAP listener: %s:%s failed (consecutive failures %d): %v",
			l.account.Email, l.cfg.Folder, failures, err)

		if failures > l.cfg.MaxFailures {
			l.setState(StateFailed)
			log.Printf("IMAP listener: %s:%s exceeded %d consecutive failures, marking account failed",
				l.account.Email, l.cfg.Folder, l.cfg.MaxFailures)
			if err := db.UpdateAccountStatus(ctx, l.store, l.account.ID, models.AccountStatusFailed); err != nil {
				log.Printf("IMAP listener: marking account %s failed: %v", l.account.Email, err)
			}
			return fmt.Errorf("listener for %s:%s gave up after %d consecutive failures: %w",
				l.account.Email, l.cfg.Folder, failures, err)
		}

		l.setState(StateBackingOff)
		select {
		case <-time.After(backoffDelay(failures)):
		case <-ctx.Done():
			l.setState(StateStopped)
			return ctx.Err()
		}
	}
}

// cycle runs one connection lifetime: claim a session, sync, then alternate
// between IDLE and resync until an error or cancellation.
func (l *Listener) cycle(ctx context.Context) error {
	l.setState(StateStarting)

	session, err := l.pool.Get(ctx, &l.account, l.cfg.Folder)
	if err != nil {
		return err
	}

	// Unsolicited updates flow through a dedicated drainer for the whole
	// cycle so the client reader never blocks on a full channel. Mailbox
	// updates coalesce into a single wake signal.
	c := session.Client()
	updates := make(chan imapclient.Update, updateBuffer)
	wake := make(chan struct{}, 1)
	drainCtx, stopDrain := context.WithCancel(context.Background())
	defer stopDrain()
	c.Updates = updates
	go func() {
		for {
			select {
			case <-drainCtx.Done():
				return
			case update := <-updates:
				if _, ok := update.(*imapclient.MailboxUpdate); ok {
					select {
					case wake <- struct{}{}:
					default:
					}
				}
			}
		}
	}()

	for {
		if err := l.resync(ctx, session); err != nil {
			l.pool.Close(session)
			return err
		}

		if err := db.RecordConnectionSuccess(ctx, l.store, l.account.ID, l.cfg.Folder); err != nil {
			log.Printf("IMAP listener: recording success for %s:%s: %v", l.account.Email, l.cfg.Folder, err)
		}

		again, err := l.idle(ctx, session, wake)
		if err != nil {
			l.pool.Close(session)
			return err
		}
		if !again {
			// The drainer stops with this cycle; a released session must not
			// keep pointing at its channel or the reader eventually blocks.
			c.Updates = nil
			l.pool.Release(session)
			return nil
		}
	}
}

// resync brings the UID cursor up to date and forwards everything new. The
// cursor advances only after the sink accepted the whole batch, so a crash
// in between re-observes instead of losing messages.
func (l *Listener) resync(ctx context.Context, session *Session) error {
	l.setState(StateSyncing)

	c := session.Client()
	mbox := c.Mailbox()
	if mbox == nil {
		return fmt.Errorf("no mailbox selected for %s", l.cfg.Folder)
	}
	uidValidity := mbox.UidValidity

	tracking, err := db.GetUIDTracking(ctx, l.store, l.account.ID, l.cfg.Folder)
	if err != nil {
		return fmt.Errorf("loading UID tracking: %w", err)
	}

	if tracking.UIDValidity != uidValidity {
		if tracking.UIDValidity != 0 {
			log.Printf("IMAP listener: UIDVALIDITY changed for %s:%s (%d -> %d), resetting cursor",
				l.account.Email, l.cfg.Folder, tracking.UIDValidity, uidValidity)
		}
		if err := db.ResetUIDTracking(ctx, l.store, l.account.ID, l.cfg.Folder, uidValidity); err != nil {
			return fmt.Errorf("resetting UID tracking: %w", err)
		}
		tracking.UIDValidity = uidValidity
		tracking.LastSeenUID = 0
	}

	uids, err := SearchNewUIDs(c, tracking.LastSeenUID)
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		if err := db.TouchUIDTracking(ctx, l.store, l.account.ID, l.cfg.Folder); err != nil {
			log.Printf("IMAP listener: touching UID tracking for %s:%s: %v", l.account.Email, l.cfg.Folder, err)
		}
		return nil
	}

	messages, err := FetchEnvelopes(c, uids)
	if err != nil {
		return err
	}

	maxUID := tracking.LastSeenUID
	for _, msg := range messages {
		record := RecordFromMessage(&l.account, l.cfg.Folder, msg)
		if err := l.sink.Emit(ctx, &l.account, l.cfg.Folder, record); err != nil {
			return fmt.Errorf("capturing message uid %d: %w", msg.Uid, err)
		}
		l.collector.MessageObserved(l.account.IMAPHost)
		if msg.Uid > maxUID {
			maxUID = msg.Uid
		}
	}

	if err := db.AdvanceUIDTracking(ctx, l.store, l.account.ID, l.cfg.Folder, uidValidity, maxUID); err != nil {
		return fmt.Errorf("advancing UID tracking: %w", err)
	}

	log.Printf("IMAP listener: forwarded %d new messages for %s:%s", len(messages), l.account.Email, l.cfg.Folder)
	return nil
}

// idle parks the session in IDLE until the mailbox changes, the refresh
// interval elapses, or ctx is canceled. It reports whether the loop should
// resync and go again.
func (l *Listener) idle(ctx context.Context, session *Session, wake <-chan struct{}) (bool, error) {
	l.setState(StateIdling)

	l.pool.StartIdle(session)
	idleClient := idle.NewClient(session.Client())
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idleClient.IdleWithFallback(stop, idleFallbackPoll)
	}()

	stopIdle := func() error {
		close(stop)
		err := <-done
		l.pool.StopIdle(session)
		return err
	}

	refresh := time.NewTimer(l.cfg.IdleRefresh)
	defer refresh.Stop()

	select {
	case <-ctx.Done():
		_ = stopIdle()
		return false, nil
	case err := <-done:
		l.pool.StopIdle(session)
		if err != nil {
			return false, fmt.Errorf("idle ended: %w", err)
		}
		// Server ended IDLE without an error; treat it as a wake-up.
		return true, nil
	case <-wake:
		if err := stopIdle(); err != nil {
			return false, fmt.Errorf("stopping idle: %w", err)
		}
		return true, nil
	case <-refresh.C:
		log.Printf("IMAP listener: refreshing idle for %s:%s", l.account.Email, l.cfg.Folder)
		if err := stopIdle(); err != nil {
			return false, fmt.Errorf("refreshing idle: %w", err)
		}
		return true, nil
	}
}

// providerAllowed checks the account host against the allowlist,
// case-insensitively. An empty allowlist admits every host.
func (l *Listener) providerAllowed() bool {
	if len(l.cfg.Providers) == 0 {
		return true
	}
	for _, provider := range l.cfg.Providers {
		if strings.EqualFold(provider, l.account.IMAPHost) {
			return true
		}
	}
	return false
}

// backoffDelay returns min(2^failures, 300) seconds with ±20% jitter.
func backoffDelay(failures int) time.Duration {
	seconds := math.Min(math.Pow(2, float64(failures)), maxBackoff.Seconds())
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(seconds * jitter * float64(time.Second))
}
