package main

import (
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cloudx-io/sealedauction/internal/syncutil"
)

// callerLimiter applies a token bucket per caller and evicts idle callers now and then.
// A nil limiter allows everything.
type callerLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu     syncutil.Mutex
	byKey  map[string]*limiterEntry
	checks uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newCallerLimiter(cfg RateLimitConfig) *callerLimiter {
	if cfg.RequestsPerSecond <= 0 || cfg.Burst <= 0 {
		return nil
	}
	idleTTL := cfg.IdleTTL
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &callerLimiter{
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		idleTTL: idleTTL,
		byKey:   make(map[string]*limiterEntry),
	}
}

// Allow reports whether caller may make one more request at now. Anonymous requests share
// the "" bucket.
func (l *callerLimiter) Allow(caller string, now time.Time) bool {
	if l == nil {
		return true
	}
	caller = strings.TrimSpace(caller)

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[caller]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[caller] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.checks++
	if l.checks%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}
