// Package ratelimit provides per-webhook delivery rate limiting.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter maintains one token bucket per webhook. Burst equals the
// per-second rate, so a quiet webhook can absorb a fan-out spike of up
// to one second's budget.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a new rate limiter.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow checks whether a delivery to the webhook may proceed now.
// A perSecond of 0 or less means unlimited (always true).
func (l *Limiter) Allow(webhookID string, perSecond int) bool {
	if perSecond <= 0 {
		return true
	}

	l.mu.Lock()
	lim, ok := l.buckets[webhookID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		l.buckets[webhookID] = lim
	} else if lim.Limit() != rate.Limit(perSecond) {
		lim.SetLimit(rate.Limit(perSecond))
		lim.SetBurst(perSecond)
	}
	l.mu.Unlock()

	return lim.Allow()
}

// Reset clears the rate limit state for a webhook.
func (l *Limiter) Reset(webhookID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, webhookID)
}
