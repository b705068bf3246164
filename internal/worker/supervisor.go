// Package worker spreads the active accounts across a fixed number of
// listener workers and supervises their lifecycle.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gvso/nolas/internal/db"
	"github.com/gvso/nolas/internal/imap"
	"github.com/gvso/nolas/internal/metrics"
	"github.com/gvso/nolas/internal/models"
)

const (
	defaultWorkers = 2
	// shutdownGrace bounds how long Run waits for listeners after cancel.
	shutdownGrace = 10 * time.Second
)

// SupervisorConfig carries the listener fan-out knobs.
type SupervisorConfig struct {
	// Workers is the number of shards the accounts are split into.
	Workers int
	// Folders to watch per account. Defaults to INBOX only.
	Folders []string
	// Providers is the IMAP host allowlist handed to every listener.
	Providers []string
	// IdleRefresh bounds a single IDLE cycle.
	IdleRefresh time.Duration
	// MaxFailures is the per-listener consecutive-failure ceiling.
	MaxFailures int
	// Collector receives listener metrics. Nil disables them.
	Collector metrics.Collector
}

// Supervisor starts one listener per (active account, folder), sharded
// across workers. Listeners self-heal with backoff; the supervisor only
// starts them and waits for shutdown.
type Supervisor struct {
	pool  *imap.Pool
	store *pgxpool.Pool
	sink  imap.Sink
	cfg   SupervisorConfig
}

// NewSupervisor builds a supervisor over the shared pool and sink.
func NewSupervisor(pool *imap.Pool, store *pgxpool.Pool, sink imap.Sink, cfg SupervisorConfig) *Supervisor {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if len(cfg.Folders) == 0 {
		cfg.Folders = []string{"INBOX"}
	}
	return &Supervisor{pool: pool, store: store, sink: sink, cfg: cfg}
}

// Run loads the active accounts, starts their listeners and blocks until
// ctx is canceled. After cancellation it waits up to the shutdown grace
// period for listeners to wind down before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	accounts, err := db.ListAccountsByStatus(ctx, s.store, models.AccountStatusActive)
	if err != nil {
		return err
	}

	shards := s.shard(accounts)
	var wg sync.WaitGroup
	for i, shard := range shards {
		if len(shard) == 0 {
			continue
		}
		log.Printf("Supervisor: worker %d watching %d accounts", i, len(shard))
		for _, account := range shard {
			for _, folder := range s.cfg.Folders {
				wg.Add(1)
				go func(worker int, account models.Account, folder string) {
					defer wg.Done()
					s.runListener(ctx, worker, account, folder)
				}(i, *account, folder)
			}
		}
	}

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("Supervisor: all listeners stopped")
	case <-time.After(shutdownGrace):
		log.Printf("Supervisor: shutdown grace of %s elapsed, abandoning remaining listeners", shutdownGrace)
	}
	return ctx.Err()
}

// runListener drives one listener until it stops. Listeners that give up at
// the failure ceiling already marked their account; nothing to restart.
func (s *Supervisor) runListener(ctx context.Context, worker int, account models.Account, folder string) {
	listener := imap.NewListener(s.pool, s.store, s.sink, account, imap.ListenerConfig{
		Folder:      folder,
		IdleRefresh: s.cfg.IdleRefresh,
		MaxFailures: s.cfg.MaxFailures,
		Providers:   s.cfg.Providers,
		Collector:   s.cfg.Collector,
	})

	err := listener.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Printf("Supervisor: worker %d listener %s:%s stopped", worker, account.Email, folder)
	case errors.Is(err, imap.ErrProviderNotAllowed):
		log.Printf("Supervisor: worker %d skipping %s:%s: %v", worker, account.Email, folder, err)
	default:
		log.Printf("Supervisor: worker %d listener %s:%s exited: %v", worker, account.Email, folder, err)
	}
}

// shard splits accounts round-robin into Workers groups.
func (s *Supervisor) shard(accounts []*models.Account) [][]*models.Account {
	shards := make([][]*models.Account, s.cfg.Workers)
	for i, account := range accounts {
		shard := i % s.cfg.Workers
		shards[shard] = append(shards[shard], account)
	}
	return shards
}
