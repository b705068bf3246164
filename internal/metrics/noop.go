package metrics

import "time"

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// NewNoopCollector returns a Collector that discards every observation.
// Components fall back to it when no collector is configured.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// ConnectionOpened is a no-op.
func (n *NoopCollector) ConnectionOpened(provider string) {}

// ConnectionClosed is a no-op.
func (n *NoopCollector) ConnectionClosed(provider string) {}

// ConnectionReused is a no-op.
func (n *NoopCollector) ConnectionReused(provider string) {}

// ConnectionEvicted is a no-op.
func (n *NoopCollector) ConnectionEvicted(provider string) {}

// RateLimitWaited is a no-op.
func (n *NoopCollector) RateLimitWaited(provider string, waited time.Duration) {}

// ListenerStarted is a no-op.
func (n *NoopCollector) ListenerStarted() {}

// ListenerStopped is a no-op.
func (n *NoopCollector) ListenerStopped() {}

// ListenerFailure is a no-op.
func (n *NoopCollector) ListenerFailure(provider string) {}

// MessageObserved is a no-op.
func (n *NoopCollector) MessageObserved(provider string) {}

// EventCaptured is a no-op.
func (n *NoopCollector) EventCaptured() {}

// WebhookAttempt is a no-op.
func (n *NoopCollector) WebhookAttempt(success bool) {}
