// Package metrics provides interfaces and implementations for collecting
// bridge metrics. The Collector interface is implemented by a Prometheus
// collector for production and a no-op collector for tests.
package metrics

import "time"

// Collector defines the interface for recording bridge metrics.
type Collector interface {
	// Connection pool metrics, labelled by provider host
	ConnectionOpened(provider string)
	ConnectionClosed(provider string)
	ConnectionReused(provider string)
	ConnectionEvicted(provider string)
	RateLimitWaited(provider string, waited time.Duration)

	// Listener metrics
	ListenerStarted()
	ListenerStopped()
	ListenerFailure(provider string)
	MessageObserved(provider string)

	// Event and delivery metrics
	EventCaptured()
	WebhookAttempt(success bool)
}
