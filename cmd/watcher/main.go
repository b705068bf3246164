// The watcher command runs the mailbox-watching side of the bridge: one
// IDLE listener per active account and folder, the event capture path and
// the webhook delivery loop, plus a Prometheus metrics endpoint.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gvso/nolas/internal/config"
	"github.com/gvso/nolas/internal/crypto"
	"github.com/gvso/nolas/internal/db"
	"github.com/gvso/nolas/internal/events"
	"github.com/gvso/nolas/internal/imap"
	"github.com/gvso/nolas/internal/metrics"
	"github.com/gvso/nolas/internal/webhook"
	"github.com/gvso/nolas/internal/worker"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		log.Fatalf("Failed to create encryptor: %v", err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewPrometheusCollector(registry)

	imapPool := imap.NewPool(encryptor, imap.PoolConfig{
		MaxPerProvider: cfg.MaxConnectionsPerProvider,
		CommandTimeout: cfg.IMAPTimeout,
		UseTLS:         true,
		Collector:      collector,
	})
	defer imapPool.CloseAll()

	emitter := events.NewEmitter(pool, collector)
	supervisor := worker.NewSupervisor(imapPool, pool, emitter, worker.SupervisorConfig{
		Workers:     cfg.WorkersNum,
		Providers:   cfg.IMAPProviders,
		IdleRefresh: cfg.IMAPIdleTimeout,
		MaxFailures: cfg.MaxConsecutiveFailures,
		Collector:   collector,
	})
	shipper := webhook.NewShipper(pool, webhook.ShipperConfig{
		Timeout:    cfg.WebhookTimeout,
		MaxRetries: cfg.WebhookMaxRetries,
		Collector:  collector,
	})

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		log.Printf("Metrics listening on %s", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server failed: %v", err)
		}
	}()

	log.Printf("nolas watcher starting with %d workers (environment: %s)", cfg.WorkersNum, cfg.Environment)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := supervisor.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Supervisor exited: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		shipper.Run(ctx)
	}()

	<-ctx.Done()
	log.Printf("Shutting down")
	_ = metricsServer.Shutdown(context.Background())
	wg.Wait()
}
