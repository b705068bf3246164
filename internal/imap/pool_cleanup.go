package imap

import (
	"log"
	"time"
)

// startCleanup runs a background goroutine that periodically closes stale
// sessions. The goroutine stops when the pool is closed via CloseAll.
func (p *Pool) startCleanup() {
	ticker := time.NewTicker(cleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-p.cleanupCtx.Done():
				return
			case <-ticker.C:
				p.CleanupIdle(p.cfg.IdleMaxAge)
			}
		}
	}()
}

// CleanupIdle closes sessions that have not been used for longer than
// maxAge. Claimed sessions are skipped. Returns the number closed.
func (p *Pool) CleanupIdle(maxAge time.Duration) int {
	now := time.Now()

	p.mu.Lock()
	var stale []*Session
	for _, list := range p.sessions {
		for _, s := range list {
			if !s.mu.TryLock() {
				continue
			}
			if now.Sub(s.lastUsed) > maxAge {
				// Stays locked until shut down below.
				stale = append(stale, s)
			} else {
				s.mu.Unlock()
			}
		}
	}
	for _, s := range stale {
		p.removeLocked(s)
	}
	p.mu.Unlock()

	for _, s := range stale {
		p.shutdown(s)
		s.mu.Unlock()
		<-p.slot(s.provider)
		p.collector.ConnectionClosed(s.provider)
	}

	if len(stale) > 0 {
		log.Printf("IMAP pool: closed %d stale sessions", len(stale))
	}
	return len(stale)
}
