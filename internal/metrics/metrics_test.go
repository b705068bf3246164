package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewNoopCollector(t *testing.T) {
	var c Collector = NewNoopCollector()
	if c == nil {
		t.Fatal("Expected a collector, got nil")
	}

	// Every method is callable without side effects.
	c.ConnectionOpened("imap.example.com")
	c.ConnectionClosed("imap.example.com")
	c.ConnectionReused("imap.example.com")
	c.ConnectionEvicted("imap.example.com")
	c.RateLimitWaited("imap.example.com", time.Millisecond)
	c.ListenerStarted()
	c.ListenerStopped()
	c.ListenerFailure("imap.example.com")
	c.MessageObserved("imap.example.com")
	c.EventCaptured()
	c.WebhookAttempt(true)
}

func TestNewPrometheusCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	var c Collector = NewPrometheusCollector(registry)

	c.ConnectionOpened("imap.example.com")
	c.ConnectionReused("imap.example.com")
	c.EventCaptured()
	c.WebhookAttempt(false)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("Expected registered metrics after observations")
	}
}
